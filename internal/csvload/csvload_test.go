package csvload_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sgbd-go/sgbd/internal/catalog"
	"github.com/sgbd-go/sgbd/internal/csvload"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func Test_Parse_Fixed_Relation_Reads_Schema_Names_And_Rows(t *testing.T) {
	path := writeCSV(t, "int 4,string 10\nid,name\n1,ann\n2,bob\n")

	file, err := csvload.Parse(path, true)
	require.NoError(t, err)

	require.Equal(t, []catalog.Field{
		{Name: "id", Type: catalog.Int, Size: 4},
		{Name: "name", Type: catalog.String, Size: 10},
	}, file.Fields)
	require.Equal(t, []string{"id", "name"}, file.Names)
	require.Equal(t, [][]string{{"1", "ann"}, {"2", "bob"}}, file.Rows)
}

func Test_Parse_Variable_Relation_Does_Not_Require_Sizes(t *testing.T) {
	path := writeCSV(t, "string,string\ntitle,body\nhello,world\n")

	file, err := csvload.Parse(path, false)
	require.NoError(t, err)
	require.Equal(t, -1, file.Fields[0].Size)
	require.Equal(t, -1, file.Fields[1].Size)
}

func Test_Parse_Fixed_Relation_Requires_Size_Token(t *testing.T) {
	path := writeCSV(t, "int,string 10\nid,name\n1,ann\n")

	_, err := csvload.Parse(path, true)
	require.Error(t, err)
}

func Test_Parse_Rejects_Name_Type_Count_Mismatch(t *testing.T) {
	path := writeCSV(t, "int 4\nid,name\n1,ann\n")

	_, err := csvload.Parse(path, true)
	require.Error(t, err)
}

func Test_Parse_Rejects_Row_With_Wrong_Field_Count(t *testing.T) {
	path := writeCSV(t, "int 4,string 10\nid,name\n1,ann,extra\n")

	_, err := csvload.Parse(path, true)
	require.Error(t, err)
}

func Test_Parse_Skips_Blank_Trailing_Lines(t *testing.T) {
	path := writeCSV(t, "int 4\nid\n1\n2\n\n")

	file, err := csvload.Parse(path, true)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1"}, {"2"}}, file.Rows)
}

func Test_Parse_Missing_File_Errors(t *testing.T) {
	_, err := csvload.Parse(filepath.Join(t.TempDir(), "nope.csv"), true)
	require.Error(t, err)
}
