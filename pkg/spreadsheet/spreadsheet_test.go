package spreadsheet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	input := "Name,Last Name,E-Mail\nAsha, Rao ,asha@example.com\n,,\nRavi,K,ravi@example.com\n"
	sheet, err := Read("students.CSV", strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, sheet.Records, 2)
	assert.Equal(t, "Rao", sheet.Records[0].Get("last name"))
	assert.Equal(t, "asha@example.com", sheet.Records[0].Get("E-Mail"))
	assert.Equal(t, 2, sheet.Records[0].Line)
	assert.Equal(t, 4, sheet.Records[1].Line)
	assert.Empty(t, sheet.HasColumns("Name", "e-mail"))
	assert.Equal(t, []string{"Grade"}, sheet.HasColumns("Grade"))
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Name", "Grade", "Division"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"Asha", "5", "a"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	sheet, err := Read("upload.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, sheet.Records, 1)
	assert.Equal(t, "5", sheet.Records[0].Get("Grade"))
	assert.Equal(t, "a", sheet.Records[0].Get("division"))
}

func TestReadRejectsUnknownFormat(t *testing.T) {
	_, err := Read("students.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.False(t, Supported("students.txt"))
	assert.True(t, Supported("students.xlsx"))
}

func TestReadEmpty(t *testing.T) {
	_, err := Read("empty.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmpty)
}
