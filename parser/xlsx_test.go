package parser

import (
	"context"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

func createTestXLSX(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Inventory"); err != nil {
		t.Fatal(err)
	}
	rows := [][]any{
		{"Item", "Qty", nil},
		{"Bolts", 12, nil},
		{nil, nil, nil},
		{"Nuts", 40},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Inventory", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.NewSheet("Notes"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Notes", "A1", "Checked by  QA"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetDocProps(&excelize.DocProperties{
		Title:    "Stock Sheet",
		Creator:  "Warehouse",
		Keywords: "stock, parts",
		Created:  "2022-01-02T03:04:05Z",
	}); err != nil {
		t.Fatal(err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestXLSXSheets(t *testing.T) {
	doc, err := (&XLSXParser{}).ParseBytes(context.Background(), createTestXLSX(t), "stock.xlsx")
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}

	want := []Element{
		Heading("Inventory", 2),
		Paragraph("| Item | Qty |\n| Bolts | 12 |\n| Nuts | 40 |"),
		Heading("Notes", 2),
		Paragraph("| Checked by QA |"),
	}
	if len(doc.Elements) != len(want) {
		t.Fatalf("got %d elements, want %d: %+v", len(doc.Elements), len(want), doc.Elements)
	}
	for i := range want {
		want[i].Order = i
		if !reflect.DeepEqual(doc.Elements[i], want[i]) {
			t.Errorf("element %d = %+v, want %+v", i, doc.Elements[i], want[i])
		}
	}

	m := doc.Metadata
	if m.Title != "Stock Sheet" || m.Author != "Warehouse" || m.Pages != 2 {
		t.Errorf("metadata = %+v", m)
	}
	if !reflect.DeepEqual(m.Keywords, []string{"stock", "parts"}) {
		t.Errorf("keywords = %v", m.Keywords)
	}
	if m.Created.Year() != 2022 {
		t.Errorf("created = %v", m.Created)
	}
}

func TestRenderRows(t *testing.T) {
	got := renderRows([][]string{{"a", "", ""}, {}, {"", "b"}})
	if want := "| a |\n|  | b |"; got != want {
		t.Errorf("renderRows = %q, want %q", got, want)
	}
}
