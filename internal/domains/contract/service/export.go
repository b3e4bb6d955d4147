package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"owlfenc-backend/internal/domains/contract/model"
)

const (
	sheetSummary     = "Summary"
	sheetDeliveryLog = "Delivery Log"
	sheetEvents      = "Events"
	sheetPayments    = "Payments"
)

// ExportAudit builds an XLSX workbook of the contract's audit trail.
func (s *queryService) ExportAudit(ctx context.Context, ownerID, contractID uuid.UUID) ([]byte, error) {
	detail, err := s.Get(ctx, ownerID, contractID)
	if err != nil {
		return nil, err
	}

	f, err := buildAuditWorkbook(detail)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit workbook: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write audit workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func buildAuditWorkbook(d *model.ContractDetail) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetDeliveryLog, sheetEvents, sheetPayments} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	// Summary: key/value pairs
	summary := [][]interface{}{
		{"Contract ID", d.ID.String()},
		{"Title", d.Title},
		{"Status", d.Status.String()},
		{"Client", d.Client.Name},
		{"Contractor", d.Contractor.Name},
		{"Total", d.Financials.Total.InexactFloat64()},
		{"Paid", d.Paid.InexactFloat64()},
		{"Balance", d.Balance.InexactFloat64()},
		{"Contractor signed", d.Signatures.Contractor.Signed},
		{"Client signed", d.Signatures.Client.Signed},
		{"Created at", formatTime(&d.CreatedAt)},
		{"Completed at", formatTime(d.CompletedAt)},
		{"Cancelled at", formatTime(d.CancelledAt)},
	}
	for i, row := range summary {
		if err := setRow(f, sheetSummary, i+1, row); err != nil {
			return nil, err
		}
	}
	_ = f.SetCellStyle(sheetSummary, "A1", fmt.Sprintf("A%d", len(summary)), headerStyle)

	// Delivery log
	if err := writeTable(f, sheetDeliveryLog, headerStyle,
		[]interface{}{"Seq", "Attempt At", "Channel", "Party", "Recipient", "Purpose", "Outcome", "Provider Message ID"},
		len(d.DeliveryLog),
		func(i int) []interface{} {
			e := d.DeliveryLog[i]
			msgID := ""
			if e.ProviderMessageID != nil {
				msgID = *e.ProviderMessageID
			}
			return []interface{}{e.Seq, formatTime(&e.AttemptAt), e.Channel.String(), e.Party.String(), e.Recipient, e.Purpose, e.Outcome, msgID}
		},
	); err != nil {
		return nil, err
	}

	// Events
	if err := writeTable(f, sheetEvents, headerStyle,
		[]interface{}{"Created At", "Kind", "From", "To", "Party", "Actor", "Detail"},
		len(d.Events),
		func(i int) []interface{} {
			e := d.Events[i]
			row := []interface{}{formatTime(&e.CreatedAt), string(e.Kind), "", "", "", "", e.Detail}
			if e.FromStatus != nil {
				row[2] = e.FromStatus.String()
			}
			if e.ToStatus != nil {
				row[3] = e.ToStatus.String()
			}
			if e.Party != nil {
				row[4] = e.Party.String()
			}
			if e.Actor != nil {
				row[5] = e.Actor.String()
			}
			return row
		},
	); err != nil {
		return nil, err
	}

	// Payments
	payments := d.Financials.Payments
	if err := writeTable(f, sheetPayments, headerStyle,
		[]interface{}{"Reference", "Milestone", "Amount", "Method", "Received At", "Recorded At"},
		len(payments),
		func(i int) []interface{} {
			p := payments[i]
			milestone := fmt.Sprintf("#%d", p.MilestoneIndex)
			if p.MilestoneIndex < len(d.Financials.Milestones) {
				milestone = d.Financials.Milestones[p.MilestoneIndex].Description
			}
			return []interface{}{p.Reference, milestone, p.Amount.InexactFloat64(), p.Method, formatTime(&p.ReceivedAt), formatTime(&p.RecordedAt)}
		},
	); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeTable(f *excelize.File, sheet string, headerStyle int, headers []interface{}, n int, row func(i int) []interface{}) error {
	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)

	for i := 0; i < n; i++ {
		if err := setRow(f, sheet, i+2, row(i)); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
