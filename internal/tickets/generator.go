package tickets

import (
	"context"
	"fmt"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/tickets/template"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

type QREncoder interface {
	Encode(payload string) ([]byte, error)
}

type PDFRenderer interface {
	Generate(ticket template.TicketInfo, qrCode []byte) ([]byte, error)
}

// Generator renders one downloadable artifact per ticket: a PDF when a
// renderer is set, the bare QR image otherwise.
type Generator struct {
	qr          QREncoder
	pdf         PDFRenderer
	storage     ArtifactStorage
	logger      *logger.Logger
	festival    string
	concurrency int
}

func NewGenerator(qr QREncoder, storage ArtifactStorage, log *logger.Logger) *Generator {
	return &Generator{qr: qr, storage: storage, logger: log, concurrency: defaultConcurrency}
}

// WithPDF makes the generator produce PDF tickets titled with festival.
func (g *Generator) WithPDF(r PDFRenderer, festival string) *Generator {
	g.pdf = r
	g.festival = festival
	return g
}

// Generate returns artifact URLs aligned with items. A ticket whose artifact
// could not be produced gets an empty URL; the rest are still returned.
func (g *Generator) Generate(ctx context.Context, orderNumber string, items []models.OrderItem) []string {
	urls := make([]string, len(items))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i := range items {
		item := items[i]
		eg.Go(func() error {
			url, err := g.render(ctx, orderNumber, item)
			if err != nil {
				g.logger.Warn("TICKETS", fmt.Sprintf("artifact for %s/%s failed: %v", orderNumber, item.TicketCode, err))
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = eg.Wait()

	return urls
}

func (g *Generator) render(ctx context.Context, orderNumber string, item models.OrderItem) (string, error) {
	if item.TicketCode == "" {
		return "", fmt.Errorf("ticket has no code")
	}
	img, err := g.qr.Encode(item.QRData)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	if g.pdf == nil {
		return g.storage.Save(ctx, orderNumber+"/"+item.TicketCode+".png", img)
	}

	doc, err := g.pdf.Generate(template.TicketInfo{
		Festival:    g.festival,
		OrderNumber: orderNumber,
		TicketCode:  item.TicketCode,
		TicketName:  item.TicketName,
		Invitation:  item.IsInvitation,
	}, img)
	if err != nil {
		return "", fmt.Errorf("render pdf: %w", err)
	}
	return g.storage.Save(ctx, orderNumber+"/"+item.TicketCode+".pdf", doc)
}
