package tickets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/tickets/qr"
	"festival-ticketing/internal/tickets/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStorage struct{ failOn string }

func (f failingStorage) Save(_ context.Context, name string, _ []byte) (string, error) {
	if name == f.failOn {
		return "", errors.New("disk full")
	}
	return "mem://" + name, nil
}

func TestLocalStorage_SaveWritesFileAndReturnsURL(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStorage(dir, "https://cdn.festival.md/tickets/")

	url, err := s.Save(context.Background(), "FL1/TK-1.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.festival.md/tickets/FL1/TK-1.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "FL1", "TK-1.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestLocalStorage_StaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStorage(dir, "http://x")

	url, err := s.Save(context.Background(), "../../escape.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "http://x/escape.png", url)
	assert.FileExists(t, filepath.Join(dir, "escape.png"))
}

func TestGenerate_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(qr.NewQRGenerator(""), NewLocalStorage(dir, "http://x"), logger.NewNopLogger())

	items := []models.OrderItem{
		{TicketCode: "TK-A", QRData: `{"code":"TK-A"}`},
		{TicketCode: "TK-B", QRData: `{"code":"TK-B"}`},
		{TicketCode: "TK-C", QRData: `{"code":"TK-C"}`},
	}
	urls := g.Generate(context.Background(), "FL1", items)

	assert.Equal(t, []string{"http://x/FL1/TK-A.png", "http://x/FL1/TK-B.png", "http://x/FL1/TK-C.png"}, urls)
}

func TestGenerate_FailedItemYieldsEmptyURL(t *testing.T) {
	g := NewGenerator(qr.NewQRGenerator(""), failingStorage{failOn: "FL1/TK-B.png"}, logger.NewNopLogger())

	items := []models.OrderItem{
		{TicketCode: "TK-A", QRData: "a"},
		{TicketCode: "TK-B", QRData: "b"},
		{TicketCode: "TK-C", QRData: ""},
	}
	urls := g.Generate(context.Background(), "FL1", items)

	require.Len(t, urls, 3)
	assert.Equal(t, "mem://FL1/TK-A.png", urls[0])
	assert.Empty(t, urls[1])
	assert.Empty(t, urls[2])
}

func TestGenerate_PDFTickets(t *testing.T) {
	dir := t.TempDir()
	g := NewGenerator(qr.NewQRGenerator("gate-secret"), NewLocalStorage(dir, "http://x"), logger.NewNopLogger()).
		WithPDF(template.NewTicketPDFGenerator(""), "Festivalul Vinului")

	urls := g.Generate(context.Background(), "FL1", []models.OrderItem{{TicketCode: "TK-A", QRData: "a"}})
	assert.Equal(t, []string{"http://x/FL1/TK-A.pdf"}, urls)

	data, err := os.ReadFile(filepath.Join(dir, "FL1", "TK-A.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data[:4]))
}
