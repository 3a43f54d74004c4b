package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mbientlab/metabase/internal/core/domain"
)

const (
	csvTimeFormat      = "2006-01-02T15.04.05.000"
	fileNameDateFormat = "2006-01-02T15.04.05"
)

// TablesToFiles turns the tables of one device into CSV files. Tables
// without rows produce no file.
func TablesToFiles(meta domain.DeviceMeta, tables []domain.DataTable, date time.Time) ([]domain.File, error) {
	var files []domain.File
	for _, table := range tables {
		if len(table.Rows) == 0 {
			continue
		}
		data, err := EncodeCSV(table, date.Location())
		if err != nil {
			return nil, fmt.Errorf("encode %s of %s: %w", table.Signal, meta.MAC, err)
		}
		files = append(files, domain.File{
			Id:   uuid.New(),
			Name: FileName(meta, table.Signal, date),
			CSV:  data,
		})
	}
	return files, nil
}

func FileName(meta domain.DeviceMeta, signal domain.Signal, date time.Time) string {
	device := meta.Name
	if device == "" {
		device = domain.MACId(meta.MAC)
	}
	return fmt.Sprintf("%s_%s_%s.csv", device, signal, date.Format(fileNameDateFormat))
}

// EncodeCSV writes epoch, local time and elapsed columns followed by the
// signal columns. Elapsed time is measured from the first row.
func EncodeCSV(table domain.DataTable, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	var offset string
	if len(table.Rows) > 0 {
		offset = table.Rows[0].Time.In(loc).Format("-07:00")
	} else {
		offset = time.Now().In(loc).Format("-07:00")
	}
	header := []string{"epoch (ms)", fmt.Sprintf("time (%s)", offset), "elapsed (s)"}
	header = append(header, table.Columns()...)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	var first time.Time
	for i, row := range table.Rows {
		if i == 0 {
			first = row.Time
		}
		record := make([]string, 0, len(header))
		record = append(record,
			strconv.FormatInt(row.Time.UnixMilli(), 10),
			row.Time.In(loc).Format(csvTimeFormat),
			strconv.FormatFloat(row.Time.Sub(first).Seconds(), 'f', 3, 64),
		)
		for _, v := range row.Values {
			record = append(record, strconv.FormatFloat(v, 'f', 4, 64))
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
