// Package docs renders printable visit documents.
package docs

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/surgicare/clinicflow/internal/domain/visit"
)

// ClinicInfo is the letterhead printed on every document.
type ClinicInfo struct {
	Name    string
	Address string
	Phone   string
}

// PrescriptionPDF renders a visit's prescription sheet. The visit must
// have reached at least the checkup stage; earlier visits have nothing to
// print.
func PrescriptionPDF(clinic ClinicInfo, v *visit.Visit) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Prescription - %s", v.PatientName), false)
	pdf.AddPage()

	// Letterhead
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 8, clinic.Name, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	if clinic.Address != "" {
		pdf.CellFormat(0, 5, clinic.Address, "", 1, "C", false, 0, "")
	}
	if clinic.Phone != "" {
		pdf.CellFormat(0, 5, "Phone: "+clinic.Phone, "", 1, "C", false, 0, "")
	}
	pdf.Ln(2)
	pdf.SetDrawColor(120, 120, 120)
	pdf.Line(10, pdf.GetY(), 200, pdf.GetY())
	pdf.Ln(4)

	// Patient and visit header
	pdf.SetFont("Arial", "", 11)
	left := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(35, 6, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 6, value, "", 1, "L", false, 0, "")
	}
	left("Patient:", v.PatientName)
	left("Doctor:", "Dr. "+v.DoctorName)
	left("Date:", v.VisitDate.Format("02 Jan 2006"))
	left("Token:", fmt.Sprintf("%d", v.TokenNumber))
	if v.Vitals.BP != "" || v.Vitals.Temperature != "" || v.Vitals.Pulse != "" || v.Vitals.Weight != "" {
		left("Vitals:", formatVitals(v.Vitals))
	}
	pdf.Ln(3)

	// Diagnosis
	if v.Diagnosis != "" {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 7, "Diagnosis", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 6, v.Diagnosis, "", "L", false)
		pdf.Ln(2)
	}

	// Prescription body
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 7, "Rx", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	if v.PrescriptionNote != "" {
		pdf.MultiCell(0, 6, v.PrescriptionNote, "", "L", false)
	} else {
		pdf.MultiCell(0, 6, "-", "", "L", false)
	}
	pdf.Ln(4)

	if v.FollowUpDate != nil {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 6, "Follow-up: "+v.FollowUpDate.Format("02 Jan 2006"), "", 1, "L", false, 0, "")
	}

	// Signature block
	pdf.SetY(-40)
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, "Dr. "+v.DoctorName, "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, "Signature", "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render prescription pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// ReceiptPDF renders a payment receipt for a completed visit.
func ReceiptPDF(clinic ClinicInfo, v *visit.Visit, issuedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Receipt - %s", v.PatientName), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 8, clinic.Name, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, "Payment Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	row := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 7, label, "1", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 7, value, "1", 1, "L", false, 0, "")
	}
	row("Patient", v.PatientName)
	row("Doctor", "Dr. "+v.DoctorName)
	row("Visit Date", v.VisitDate.Format("02 Jan 2006"))
	row("Consultation Fee", fmt.Sprintf("%.2f", v.ConsultationFee))
	row("Other Charges", fmt.Sprintf("%.2f", v.OtherCharges))
	row("Total Amount", fmt.Sprintf("%.2f", v.TotalAmount))
	if v.PaymentMode != "" {
		row("Payment Mode", v.PaymentMode)
	}
	row("Issued", issuedAt.Format("02 Jan 2006 15:04"))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func formatVitals(vt visit.Vitals) string {
	parts := make([]string, 0, 4)
	if vt.BP != "" {
		parts = append(parts, "BP "+vt.BP)
	}
	if vt.Temperature != "" {
		parts = append(parts, "Temp "+vt.Temperature)
	}
	if vt.Pulse != "" {
		parts = append(parts, "Pulse "+vt.Pulse)
	}
	if vt.Weight != "" {
		parts = append(parts, "Wt "+vt.Weight)
	}
	return strings.Join(parts, ", ")
}
