// Command sheetstore manages entity records stored in a local database
// or a remote spreadsheet.
package main

import "github.com/yln-platform/sheetstore/internal/cli"

func main() {
	cli.Execute()
}
