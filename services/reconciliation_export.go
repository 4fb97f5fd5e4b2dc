package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xuri/excelize/v2"
)

var reconciliationExportHeader = []string{
	"Subject ID",
	"Case Found",
	"Record ID",
	"Location",
	"Classification",
	"Repaired",
	"Repaired To",
	"Detail",
	"Error",
}

// ExportSweepXLSX renders a sweep summary as a workbook with a findings sheet
// and a totals sheet.
func ExportSweepXLSX(summary *SweepSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const findings = "Findings"
	index, err := f.NewSheet(findings)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	for i, h := range reconciliationExportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(findings, cell, h); err != nil {
			return nil, err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(reconciliationExportHeader), 1)
	if err := f.SetCellStyle(findings, "A1", lastHeader, headerStyle); err != nil {
		return nil, err
	}

	row := 2
	for _, report := range summary.Reports {
		for _, finding := range report.Findings {
			values := []interface{}{
				report.SubjectID,
				report.CaseFound,
				finding.RecordID,
				finding.Location,
				string(finding.Classification),
				finding.Repaired,
				finding.RepairedTo,
				finding.Detail,
				finding.Error,
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(findings, cell, &values); err != nil {
				return nil, err
			}
			row++
		}
	}
	_ = f.SetColWidth(findings, "A", "D", 24)
	_ = f.SetColWidth(findings, "H", "I", 60)

	const totals = "Totals"
	if _, err := f.NewSheet(totals); err != nil {
		return nil, err
	}
	rows := [][]interface{}{
		{"Subjects scanned", summary.SubjectsScanned},
		{"Subjects with errors", summary.SubjectsWithErrors},
		{"Records scanned", summary.RecordsScanned},
		{"Correct", summary.Correct},
		{"Misplaced", summary.Misplaced},
		{"Orphaned", summary.Orphaned},
		{"Repaired", summary.Repaired},
		{"Failed", summary.Failed},
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(totals, cell, &rows[i]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// ReportArchiver stores sweep reports outside the database.
type ReportArchiver interface {
	Archive(ctx context.Context, name string, body []byte, contentType string) (key string, err error)
}

// S3PutObjectAPI is the subset of *s3.Client the archiver uses.
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes reports to <prefix>/<yyyy>/<mm>/<name> in one bucket.
type S3Archiver struct {
	client S3PutObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

func NewS3Archiver(client S3PutObjectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

// NewS3ArchiverFromConfig builds the S3 client from the default credential
// chain.
func NewS3ArchiverFromConfig(ctx context.Context, bucket, region, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewS3Archiver(s3.NewFromConfig(awsCfg), bucket, prefix), nil
}

func (a *S3Archiver) Archive(ctx context.Context, name string, body []byte, contentType string) (string, error) {
	now := a.now().UTC()
	key := fmt.Sprintf("%04d/%02d/%s", now.Year(), int(now.Month()), name)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
