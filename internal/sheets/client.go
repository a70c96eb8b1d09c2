// Package sheets implements the remote backend on top of the Google
// Sheets v4 API. One worksheet per entity type, a header row in row 1,
// and the identifier column as the durable row key. Row indices are
// never cached: every mutation re-resolves the identifier to a row
// immediately before acting, because other writers may reorder the
// sheet at any time.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/yln-platform/sheetstore/pkg/types"
)

// maxColumns caps the read range per worksheet.
const maxColumns = "ZZ"

// Client talks to a single spreadsheet. It implements types.RemoteTable.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
	schemas       map[string]types.Schema
}

var _ types.RemoteTable = (*Client)(nil)

// New builds a client from config. Exactly one credential source must be
// set, which Config.Validate enforces before this is called.
func New(ctx context.Context, cfg types.Config, schemas map[string]types.Schema) (*Client, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, fmt.Errorf("building sheets client: %w", types.ErrCredentialsMissing)
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("building sheets client: %w", classify(err))
	}
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, schemas: schemas}, nil
}

// ListRows returns every data row of the entity's worksheet, excluding
// the header.
func (c *Client) ListRows(ctx context.Context, entityType string) ([][]string, error) {
	schema, err := c.schema(entityType)
	if err != nil {
		return nil, err
	}

	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, dataRange(entityType)).
		Context(ctx).Do()
	if err != nil {
		rerr := classify(err)
		if errors.Is(rerr, types.ErrWorksheetAbsent) {
			if err := c.EnsureWorksheet(ctx, entityType, schema); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s rows: %w", entityType, rerr)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		rows = append(rows, stringCells(raw, len(schema.Columns)))
	}
	return rows, nil
}

// AppendRow appends a row to the entity's worksheet, creating the
// worksheet first if it does not exist yet.
func (c *Client) AppendRow(ctx context.Context, entityType string, row []string) error {
	schema, err := c.schema(entityType)
	if err != nil {
		return err
	}
	if err := c.appendRow(ctx, entityType, row); err != nil {
		rerr := classify(err)
		if !errors.Is(rerr, types.ErrWorksheetAbsent) {
			return fmt.Errorf("appending %s row: %w", entityType, rerr)
		}
		if err := c.EnsureWorksheet(ctx, entityType, schema); err != nil {
			return err
		}
		if err := c.appendRow(ctx, entityType, row); err != nil {
			return fmt.Errorf("appending %s row: %w", entityType, classify(err))
		}
	}
	return nil
}

// UpdateRow replaces the row whose identifier cell matches id. When no
// row carries the identifier the row is appended instead, which makes
// replays idempotent: a retried create that already landed turns into a
// plain overwrite, and an update whose create was lost still produces
// the row.
func (c *Client) UpdateRow(ctx context.Context, entityType, id string, row []string) error {
	schema, err := c.schema(entityType)
	if err != nil {
		return err
	}

	idx, err := c.resolveRow(ctx, entityType, schema, id)
	if err != nil {
		rerr := classify(err)
		if errors.Is(rerr, types.ErrWorksheetAbsent) {
			if err := c.EnsureWorksheet(ctx, entityType, schema); err != nil {
				return err
			}
			idx = 0
		} else {
			return fmt.Errorf("updating %s %s: %w", entityType, id, rerr)
		}
	}
	if idx == 0 {
		return c.AppendRow(ctx, entityType, row)
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{anyCells(row)}}
	_, err = c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, rowRange(entityType, idx), vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("updating %s %s: %w", entityType, id, classify(err))
	}

	// The row may have moved between resolve and write. Verify the
	// identifier cell landed where we wrote it; a mismatch means a
	// concurrent reorder clobbered a neighbour.
	if err := c.verifyRow(ctx, entityType, schema, idx, id); err != nil {
		return fmt.Errorf("updating %s %s: %w", entityType, id, err)
	}
	return nil
}

// DeleteRow removes the row whose identifier cell matches id. A missing
// identifier is a no-op so that replayed deletes stay idempotent.
func (c *Client) DeleteRow(ctx context.Context, entityType, id string) error {
	schema, err := c.schema(entityType)
	if err != nil {
		return err
	}

	idx, err := c.resolveRow(ctx, entityType, schema, id)
	if err != nil {
		rerr := classify(err)
		if errors.Is(rerr, types.ErrWorksheetAbsent) {
			return nil
		}
		return fmt.Errorf("deleting %s %s: %w", entityType, id, rerr)
	}
	if idx == 0 {
		return nil
	}

	sheetID, err := c.sheetID(ctx, entityType)
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", entityType, id, classify(err))
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(idx - 1),
					EndIndex:   int64(idx),
				},
			},
		}},
	}
	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", entityType, id, classify(err))
	}
	return nil
}

// EnsureWorksheet creates the entity's worksheet with its header row
// when absent. Existing worksheets are left untouched.
func (c *Client) EnsureWorksheet(ctx context.Context, entityType string, schema types.Schema) error {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("ensuring %s worksheet: %w", entityType, classify(err))
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == entityType {
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: entityType},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("ensuring %s worksheet: %w", entityType, classify(err))
	}

	header := &sheets.ValueRange{Values: [][]interface{}{anyCells(schema.Header())}}
	_, err = c.svc.Spreadsheets.Values.
		Update(c.spreadsheetID, rowRange(entityType, 1), header).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("writing %s header: %w", entityType, classify(err))
	}
	return nil
}

// Ping checks that the spreadsheet is reachable with the configured
// credentials. Used by the check command.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("reaching spreadsheet: %w", classify(err))
	}
	return nil
}

func (c *Client) appendRow(ctx context.Context, entityType string, row []string) error {
	vr := &sheets.ValueRange{Values: [][]interface{}{anyCells(row)}}
	_, err := c.svc.Spreadsheets.Values.
		Append(c.spreadsheetID, dataRange(entityType), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	return err
}

// resolveRow scans the identifier column for id and returns the 1-based
// sheet row, or 0 when absent.
func (c *Client) resolveRow(ctx context.Context, entityType string, schema types.Schema, id string) (int, error) {
	idx, ok := idColumnIndex(schema)
	if !ok {
		return 0, fmt.Errorf("%s schema: %w", entityType, types.ErrSchemaMismatch)
	}
	letter := columnLetter(idx)
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, fmt.Sprintf("'%s'!%s2:%s", entityType, letter, letter)).
		Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, raw := range resp.Values {
		if len(raw) > 0 && fmt.Sprint(raw[0]) == id {
			return i + 2, nil
		}
	}
	return 0, nil
}

func (c *Client) verifyRow(ctx context.Context, entityType string, schema types.Schema, idx int, id string) error {
	colIdx, ok := idColumnIndex(schema)
	if !ok {
		return fmt.Errorf("%s schema: %w", entityType, types.ErrSchemaMismatch)
	}
	letter := columnLetter(colIdx)
	resp, err := c.svc.Spreadsheets.Values.
		Get(c.spreadsheetID, fmt.Sprintf("'%s'!%s%d", entityType, letter, idx)).
		Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 || fmt.Sprint(resp.Values[0][0]) != id {
		return &types.RemoteError{
			Kind: types.RemoteConflict,
			Err:  fmt.Errorf("row %d no longer holds %s", idx, id),
		}
	}
	return nil
}

func (c *Client) sheetID(ctx context.Context, entityType string) (int64, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == entityType {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, &types.RemoteError{
		Kind: types.RemoteNotFound,
		Err:  fmt.Errorf("worksheet %s not found", entityType),
	}
}

func (c *Client) schema(entityType string) (types.Schema, error) {
	schema, ok := c.schemas[entityType]
	if !ok {
		return types.Schema{}, fmt.Errorf("entity type %s: %w", entityType, types.ErrUnknownEntity)
	}
	return schema, nil
}

func dataRange(entityType string) string {
	return fmt.Sprintf("'%s'!A2:%s", entityType, maxColumns)
}

func rowRange(entityType string, idx int) string {
	return fmt.Sprintf("'%s'!A%d", entityType, idx)
}

// idColumnIndex returns the zero-based position of the identifier column.
func idColumnIndex(schema types.Schema) (int, bool) {
	for i, col := range schema.Columns {
		if col.Name == schema.IDField {
			return i, true
		}
	}
	return 0, false
}

// columnLetter converts a zero-based column index to its A1 letter.
func columnLetter(idx int) string {
	letters := ""
	for idx >= 0 {
		letters = string(rune('A'+idx%26)) + letters
		idx = idx/26 - 1
	}
	return letters
}

func stringCells(raw []interface{}, width int) []string {
	row := make([]string, 0, width)
	for _, cell := range raw {
		row = append(row, fmt.Sprint(cell))
	}
	return row
}

func anyCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, cell := range row {
		cells[i] = cell
	}
	return cells
}

// classify maps raw API failures onto remote error kinds so the engine
// can decide between retrying, queueing, and surfacing the failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rerr *types.RemoteError
	if errors.As(err, &rerr) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		kind := types.RemoteTransient
		retryAfter := time.Duration(0)
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			kind = types.RemoteAuth
		case gerr.Code == 404:
			kind = types.RemoteNotFound
		case gerr.Code == 429:
			kind = types.RemoteRateLimited
			retryAfter = retryAfterHint(gerr)
		case gerr.Code >= 500:
			kind = types.RemoteTransient
		}
		return &types.RemoteError{Kind: kind, RetryAfter: retryAfter, Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return &types.RemoteError{Kind: types.RemoteTransient, Err: err}
	}
	return err
}

func retryAfterHint(gerr *googleapi.Error) time.Duration {
	if gerr.Header == nil {
		return 0
	}
	raw := gerr.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
