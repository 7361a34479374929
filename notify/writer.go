package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/otp"
)

var _ authcore.Sender = (*WriterSender)(nil)

// WriterSender writes each message to w as a plain-text mail. It stands in
// for an SMTP relay in development.
type WriterSender struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewWriterSender returns a sender writing to w.
func NewWriterSender(w io.Writer) *WriterSender {
	return &WriterSender{w: w, now: time.Now}
}

func (s *WriterSender) Send(_ context.Context, email string, typ otp.Type, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "To: %s\nDate: %s\nSubject: %s\n\nYour code is %s\n\n",
		email, s.now().UTC().Format(time.RFC1123Z), Subject(typ), code)
	return err
}

// Subject is the mail subject used for typ.
func Subject(typ otp.Type) string {
	switch typ {
	case otp.EmailVerification:
		return "Verify your email address"
	case otp.PasswordReset:
		return "Reset your password"
	default:
		return "Your verification code"
	}
}
