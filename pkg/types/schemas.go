package types

// Built-in entity types of the mentorship network.
const (
	EntityUsers       = "users"
	EntityMentors     = "mentors"
	EntityMentees     = "mentees"
	EntityMentorships = "mentorships"
)

// BuiltinSchemas returns the worksheet schemas for the built-in entity
// types. Column order matches the deployed worksheets and must not change;
// adding a field is a schema migration.
func BuiltinSchemas() []Schema {
	return []Schema{
		{
			EntityType: EntityUsers,
			IDField:    "id",
			Columns: []Column{
				{Name: "id", Type: FieldString},
				{Name: "email", Type: FieldString},
				{Name: "password_hash", Type: FieldString},
				{Name: "role", Type: FieldString},
				{Name: "is_verified", Type: FieldBoolean},
				{Name: "created_at", Type: FieldTimestamp},
			},
		},
		{
			EntityType: EntityMentors,
			IDField:    "id",
			Columns: []Column{
				{Name: "id", Type: FieldString},
				{Name: "first_name", Type: FieldString},
				{Name: "last_name", Type: FieldString},
				{Name: "phone", Type: FieldString},
				{Name: "email", Type: FieldString},
				{Name: "work_profile", Type: FieldString},
				{Name: "bio", Type: FieldString},
				{Name: "is_active", Type: FieldBoolean},
				{Name: "created_at", Type: FieldTimestamp},
			},
		},
		{
			EntityType: EntityMentees,
			IDField:    "id",
			Columns: []Column{
				{Name: "id", Type: FieldString},
				{Name: "user_id", Type: FieldString},
				{Name: "first_name", Type: FieldString},
				{Name: "last_name", Type: FieldString},
				{Name: "phone", Type: FieldString},
				{Name: "email", Type: FieldString},
				{Name: "work_profile", Type: FieldString},
				{Name: "created_at", Type: FieldTimestamp},
			},
		},
		{
			EntityType: EntityMentorships,
			IDField:    "id",
			Columns: []Column{
				{Name: "id", Type: FieldString},
				{Name: "mentor_id", Type: FieldString},
				{Name: "mentee_id", Type: FieldString},
				{Name: "created_at", Type: FieldTimestamp},
			},
		},
	}
}
