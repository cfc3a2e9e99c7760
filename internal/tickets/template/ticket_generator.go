package template

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/signintech/gopdf"
)

const fontName = "ticket"

// TicketInfo is what gets printed on a ticket page.
type TicketInfo struct {
	Festival    string
	OrderNumber string
	TicketCode  string
	TicketName  string
	Invitation  bool
}

type TicketPDFGenerator struct {
	fontPath string
}

// NewTicketPDFGenerator prints text with the TTF font at fontPath. Without a
// font the page carries the QR code only.
func NewTicketPDFGenerator(fontPath string) *TicketPDFGenerator {
	return &TicketPDFGenerator{fontPath: fontPath}
}

func (g *TicketPDFGenerator) Generate(ticket TicketInfo, qrCode []byte) ([]byte, error) {
	if len(qrCode) == 0 {
		return nil, fmt.Errorf("ticket %s has no qr code", ticket.TicketCode)
	}
	img, err := png.Decode(bytes.NewReader(qrCode))
	if err != nil {
		return nil, fmt.Errorf("decode qr code: %w", err)
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	withText := g.fontPath != ""
	if withText {
		if err := pdf.AddTTFFont(fontName, g.fontPath); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
		if err := pdf.SetFont(fontName, "", 14); err != nil {
			return nil, fmt.Errorf("failed to set font: %w", err)
		}
		addHeader(pdf, ticket)
		addTicketInfo(pdf, ticket)
	}

	if err := pdf.ImageFrom(img, 197, 200, &gopdf.Rect{W: 200, H: 200}); err != nil {
		return nil, fmt.Errorf("failed to draw QR code: %w", err)
	}

	if withText {
		pdf.SetX(40)
		pdf.SetY(430)
		_ = pdf.Cell(nil, "Show this code at the festival entrance.")
	}

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addHeader(pdf *gopdf.GoPdf, ticket TicketInfo) {
	title := ticket.Festival
	if title == "" {
		title = "FESTIVAL TICKET"
	}
	pdf.SetX(40)
	pdf.SetY(40)
	_ = pdf.Cell(nil, title)
}

func addTicketInfo(pdf *gopdf.GoPdf, ticket TicketInfo) {
	kind := ticket.TicketName
	if ticket.Invitation {
		kind += " (invitation)"
	}
	info := []struct {
		Label string
		Value string
	}{
		{"Ticket", kind},
		{"Code", ticket.TicketCode},
		{"Order", ticket.OrderNumber},
	}

	pdf.SetY(80)
	for _, item := range info {
		pdf.SetX(40)
		_ = pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(24)
	}
}
