package etl

import (
	"slices"

	"github.com/leapstack-labs/redcapetl/pkg/core"
	"github.com/leapstack-labs/redcapetl/pkg/redcap"
	"github.com/leapstack-labs/redcapetl/pkg/schema"
)

// batchRows collects the rows one batch produces, per table.
type batchRows struct {
	rows    map[*schema.Table][]*schema.Row
	skipped map[string]int64
}

func newBatchRows() *batchRows {
	return &batchRows{
		rows:    make(map[*schema.Table][]*schema.Row),
		skipped: make(map[string]int64),
	}
}

// transformer maps the export rows of one record onto every table.
type transformer struct {
	schema *schema.Schema
	keys   *schema.KeyAllocator
}

// record maps one record. Root tables map from the merged non-repeating
// view of the record; each child then maps from the export rows in its
// parent's scope.
func (tr *transformer) record(g redcap.RecordGroup, out *batchRows) {
	merged := g.Merged()
	for _, root := range tr.schema.RootTables() {
		row, ok := root.CreateRow(merged, nil, "", core.RowsRoot, tr.keys)
		if !ok {
			out.skipped[root.Name]++
			continue
		}
		out.rows[root] = append(out.rows[root], row)
		for _, child := range root.Children() {
			tr.child(child, row, merged, "", g.Rows, out)
		}
	}
}

// child maps the rows of t below one parent row. parentRec is the record
// the parent row came from and scope the export rows visible to t.
func (tr *transformer) child(t *schema.Table, parent *schema.Row, parentRec redcap.Record, suffix string, scope []redcap.Record, out *batchRows) {
	suffixes := []string{suffix}
	if t.RowsType.Has(core.RowsSuffixes) {
		suffixes = t.Suffixes
	}

	contexts := contextFlags(t.RowsType)
	candidates := []redcap.Record{parentRec}
	if len(contexts) == 0 {
		contexts = []core.RowsType{core.RowsSuffixes}
	} else {
		candidates = candidateRecords(t, scope)
	}

	fk := parent.Key().Any()
	for _, rec := range candidates {
		for _, sfx := range suffixes {
			row, ok := tr.createRow(t, rec, fk, sfx, contexts)
			if !ok {
				out.skipped[t.Name]++
				continue
			}
			out.rows[t] = append(out.rows[t], row)
			if len(t.Children()) == 0 {
				continue
			}
			childScope := narrowScope(scope, rec)
			for _, c := range t.Children() {
				tr.child(c, row, rec, sfx, childScope, out)
			}
		}
	}
}

// createRow tries each rows type context of t in canonical order; a record
// matches at most one of them.
func (tr *transformer) createRow(t *schema.Table, rec redcap.Record, fk any, suffix string, contexts []core.RowsType) (*schema.Row, bool) {
	for _, ctx := range contexts {
		if row, ok := t.CreateRow(rec, fk, suffix, ctx, tr.keys); ok {
			return row, true
		}
	}
	return nil, false
}

// contextFlags returns the record-selecting flags of rt. SUFFIXES and ROOT
// select no export rows of their own.
func contextFlags(rt core.RowsType) []core.RowsType {
	var out []core.RowsType
	for _, f := range rt.Flags() {
		if f == core.RowsRoot || f == core.RowsSuffixes {
			continue
		}
		out = append(out, f)
	}
	return out
}

// candidateRecords returns the export rows in scope that t's rows type
// could map.
func candidateRecords(t *schema.Table, scope []redcap.Record) []redcap.Record {
	var out []redcap.Record
	for _, rec := range scope {
		event, instrument, instance := rec.Event(), rec.RepeatInstrument(), rec.RepeatInstance()
		switch {
		case t.RowsType.Has(core.RowsEvents) && event != "" && instance == "":
		case t.RowsType.Has(core.RowsRepeatingInstruments) && instrument != "" && slices.Contains(t.Instruments, instrument):
		case t.RowsType.Has(core.RowsRepeatingEvents) && event != "" && instance != "" && instrument == "":
		default:
			continue
		}
		out = append(out, rec)
	}
	return out
}

// narrowScope restricts scope to the rows that belong with rec: the same
// event, and for a repeating row the same instrument and instance.
func narrowScope(scope []redcap.Record, rec redcap.Record) []redcap.Record {
	event, instrument, instance := rec.Event(), rec.RepeatInstrument(), rec.RepeatInstance()
	if event == "" && instance == "" {
		return scope
	}
	var out []redcap.Record
	for _, r := range scope {
		if event != "" && r.Event() != event {
			continue
		}
		if instance != "" && (r.RepeatInstrument() != instrument || r.RepeatInstance() != instance) {
			continue
		}
		out = append(out, r)
	}
	return out
}
