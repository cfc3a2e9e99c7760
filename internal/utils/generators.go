package utils

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	PrefixRetail     = "FL"
	PrefixInvitation = "INV"
	PrefixB2B        = "B2B"
)

// GenerateOrderNumber returns e.g. FL2507-K3X9QZ for the given prefix and time.
func GenerateOrderNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s%s-%s", prefix, now.Format("0601"), randomCode(6))
}

// GenerateTicketCode returns a 12 character code printed on the ticket.
func GenerateTicketCode() string {
	return fmt.Sprintf("TK-%s-%s", randomCode(4), randomCode(8))
}

// InvoiceNumber derives the invoice number from a corporate order number.
func InvoiceNumber(orderNumber string) string {
	return "F-" + orderNumber
}

type qrPayload struct {
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
}

// GenerateQRData builds the JSON string encoded into a ticket QR code.
func GenerateQRData(ticketCode string, now time.Time) string {
	data, _ := json.Marshal(qrPayload{Code: ticketCode, Timestamp: now.UnixMilli()})
	return string(data)
}

func randomCode(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(fmt.Sprintf("random source unavailable: %v", err))
		}
		out[i] = codeAlphabet[idx.Int64()]
	}
	return string(out)
}
