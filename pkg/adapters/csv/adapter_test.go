package csv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/redcapetl/internal/testutil"
	"github.com/leapstack-labs/redcapetl/pkg/adapter"
	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enrollment() (*schema.Table, *schema.LookupTable) {
	t := &schema.Table{Name: "enrollment", RowsType: core.RowsRoot, UsesLookup: true}
	t.PrimaryKey = &schema.Field{Name: "enrollment_id", DBName: "enrollment_id", Type: core.FieldTypeAutoIncrement, Role: schema.RolePrimaryKey}
	t.Fields = []*schema.Field{
		t.PrimaryKey,
		{Name: "sex", DBName: "sex", Type: core.FieldTypeInt, Role: schema.RoleData, UsesLookup: "sex"},
		{Name: "days", DBName: "days___1", Type: core.FieldTypeCheckbox, Role: schema.RoleData, UsesLookup: "days", CheckboxRoot: "days", CheckboxCode: "1"},
		{Name: "note", DBName: "note", Type: core.FieldTypeString, Role: schema.RoleData},
	}
	lookup := schema.NewLookupTable()
	lookup.AddChoices("enrollment", "sex", []redcap.Choice{{Code: "0", Label: "Female"}, {Code: "1", Label: "Male"}})
	lookup.AddChoices("enrollment", "days", []redcap.Choice{{Code: "1", Label: "Tue"}})
	return t, lookup
}

func row(t *schema.Table, id, sex, day int64, note string) *schema.Row {
	return &schema.Row{Table: t, Data: map[string]schema.Value{
		"enrollment_id": schema.IntValue(id),
		"sex":           schema.IntValue(sex),
		"days___1":      schema.IntValue(day),
		"note":          schema.TextValue(note),
	}}
}

func open(t *testing.T) (*Connection, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "out")
	conn, err := Open(context.Background(), adapter.Config{Type: "csv", Path: dir}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return conn, dir
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), adapter.Config{Type: "csv"}, nil)
	require.Error(t, err)
}

func TestConnection_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	conn, dir := open(t)
	table, _ := enrollment()

	exists, err := conn.ExistsTable(ctx, table)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, conn.CreateTable(ctx, table, false))
	require.NoError(t, conn.CreateTable(ctx, table, true))
	require.Error(t, conn.CreateTable(ctx, table, false))

	key, err := conn.InsertRow(ctx, row(table, 10, 1, 0, "b, with comma"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), key)
	require.NoError(t, conn.InsertRows(ctx, table, []*schema.Row{
		row(table, 2, 0, 1, ""),
		row(table, 9, 1, 1, "line\nbreak"),
	}))

	raw, err := os.ReadFile(filepath.Join(dir, "enrollment.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "enrollment_id,sex,days___1,note\n10,1,0,\"b, with comma\"\n")

	data, err := conn.GetData(ctx, "enrollment", "enrollment_id")
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "2", data[0]["enrollment_id"], "ordering is numeric")
	assert.Equal(t, "9", data[1]["enrollment_id"])
	assert.Equal(t, "10", data[2]["enrollment_id"])
	assert.Nil(t, data[0]["note"])
	assert.Equal(t, "line\nbreak", data[1]["note"])

	_, err = conn.GetData(ctx, "enrollment", "missing")
	require.Error(t, err)
}

func TestConnection_LabelFile(t *testing.T) {
	ctx := context.Background()
	conn, dir := open(t)
	table, lookup := enrollment()

	require.NoError(t, conn.CreateTable(ctx, table, false))
	require.NoError(t, conn.InsertRows(ctx, table, []*schema.Row{
		row(table, 1, 0, 1, "x"),
		row(table, 2, 5, 0, "y"),
	}))
	require.NoError(t, conn.ReplaceLookupView(ctx, table, lookup))

	_, err := os.Stat(filepath.Join(dir, "enrollment_label_view.csv"))
	require.NoError(t, err)

	data, err := conn.GetData(ctx, "enrollment_label_view", "enrollment_id")
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, "Female", data[0]["sex"])
	assert.Equal(t, "Tue", data[0]["days___1"])
	assert.Equal(t, "5", data[1]["sex"])
	assert.Nil(t, data[1]["days___1"])

	require.NoError(t, conn.DropLabelView(ctx, table, false))
	require.NoError(t, conn.DropLabelView(ctx, table, true))
	require.Error(t, conn.DropLabelView(ctx, table, false))
}

func TestConnection_LabelFileFollowsInserts(t *testing.T) {
	ctx := context.Background()
	conn, _ := open(t)
	table, lookup := enrollment()

	require.NoError(t, conn.CreateTable(ctx, table, false))
	require.NoError(t, conn.ReplaceLookupView(ctx, table, lookup))

	data, err := conn.GetData(ctx, "enrollment_label_view", "")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, conn.InsertRows(ctx, table, []*schema.Row{
		row(table, 1, 1, 1, "x"),
		row(table, 2, 0, 0, "y"),
	}))
	_, err = conn.InsertRow(ctx, row(table, 3, 0, 1, "z"))
	require.NoError(t, err)

	data, err = conn.GetData(ctx, "enrollment_label_view", "enrollment_id")
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "Male", data[0]["sex"])
	assert.Equal(t, "Tue", data[0]["days___1"])
	assert.Equal(t, "Female", data[1]["sex"])
	assert.Nil(t, data[1]["days___1"])
	assert.Equal(t, "z", data[2]["note"])

	// A dropped label file is not recreated by later inserts.
	require.NoError(t, conn.DropLabelView(ctx, table, false))
	require.NoError(t, conn.InsertRows(ctx, table, []*schema.Row{row(table, 4, 1, 0, "w")}))
	_, err = conn.GetData(ctx, "enrollment_label_view", "")
	require.Error(t, err)

	rows, err := conn.GetData(ctx, "enrollment", "")
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestConnection_DropTable(t *testing.T) {
	ctx := context.Background()
	conn, _ := open(t)
	table, _ := enrollment()

	require.NoError(t, conn.DropTable(ctx, table, true))
	err := conn.DropTable(ctx, table, false)
	require.Error(t, err)
	assert.Equal(t, core.DatabaseError, core.CodeOf(err))

	require.NoError(t, conn.CreateTable(ctx, table, false))
	require.NoError(t, conn.DropTable(ctx, table, false))
	exists, err := conn.ExistsTable(ctx, table)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConnection_InsertWithoutTable(t *testing.T) {
	conn, _ := open(t)
	table, _ := enrollment()
	err := conn.InsertRows(context.Background(), table, []*schema.Row{row(table, 1, 0, 0, "")})
	require.Error(t, err)
	assert.Equal(t, core.DatabaseError, core.CodeOf(err))
}
