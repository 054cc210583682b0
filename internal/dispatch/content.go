package dispatch

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teamdigitale/italia-messages-web/internal/store"
)

// Limits bound user-supplied content. Zero fields fall back to the defaults
// the console has always enforced.
type Limits struct {
	SubjectMin  int
	SubjectMax  int
	MarkdownMin int
	MarkdownMax int
	AmountMin   int64 // eurocents
	AmountMax   int64
}

func DefaultLimits() Limits {
	return Limits{
		SubjectMin:  10,
		SubjectMax:  120,
		MarkdownMin: 80,
		MarkdownMax: 10000,
		AmountMin:   0,
		AmountMax:   9999999999,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.SubjectMin <= 0 {
		l.SubjectMin = d.SubjectMin
	}
	if l.SubjectMax <= 0 {
		l.SubjectMax = d.SubjectMax
	}
	if l.MarkdownMin <= 0 {
		l.MarkdownMin = d.MarkdownMin
	}
	if l.MarkdownMax <= 0 {
		l.MarkdownMax = d.MarkdownMax
	}
	if l.AmountMax <= 0 {
		l.AmountMax = d.AmountMax
	}
	return l
}

var (
	// 16-character fiscal code, the external recipient identifier.
	fiscalCodeRE = regexp.MustCompile(`^[A-Z0-9]{16}$`)
	// 18-digit payment notice number.
	noticeRE = regexp.MustCompile(`^\d{18}$`)
)

const dueDateLayout = "2006-01-02"

// ContentParams are the per-send knobs layered on top of a template.
// Each is independently optional; Amount uses a pointer so an explicit zero
// is distinguishable from absent.
type ContentParams struct {
	DueDate string
	Amount  *int64
	Notice  string
}

// Content is a rendered, validated message body ready for dispatch.
// Within a batch the same Content goes to every recipient.
type Content struct {
	Subject       string
	Markdown      string
	DueDate       string
	Amount        int64
	HasAmount     bool
	PaymentNotice string
}

// renderContent merges a template with per-send params, validating everything
// before any network call is issued.
func renderContent(tpl store.Template, p ContentParams, lim Limits) (Content, error) {
	lim = lim.withDefaults()

	subject := strings.TrimSpace(tpl.Subject)
	if n := len(subject); n < lim.SubjectMin || n > lim.SubjectMax {
		return Content{}, fmt.Errorf("%w: subject length %d outside [%d,%d]", ErrInvalidContent, n, lim.SubjectMin, lim.SubjectMax)
	}
	markdown := tpl.Markdown
	if n := len(markdown); n < lim.MarkdownMin || n > lim.MarkdownMax {
		return Content{}, fmt.Errorf("%w: markdown length %d outside [%d,%d]", ErrInvalidContent, n, lim.MarkdownMin, lim.MarkdownMax)
	}

	c := Content{Subject: subject, Markdown: markdown}

	if d := strings.TrimSpace(p.DueDate); d != "" {
		t, err := time.Parse(dueDateLayout, d)
		if err != nil {
			return Content{}, fmt.Errorf("%w: due date %q is not YYYY-MM-DD", ErrInvalidContent, d)
		}
		c.DueDate = t.Format(dueDateLayout)
	}

	if p.Amount != nil {
		a := *p.Amount
		if a < lim.AmountMin || a > lim.AmountMax {
			return Content{}, fmt.Errorf("%w: amount %d outside [%d,%d]", ErrInvalidContent, a, lim.AmountMin, lim.AmountMax)
		}
		c.Amount = a
		c.HasAmount = true
	}

	if n := strings.TrimSpace(p.Notice); n != "" {
		if !noticeRE.MatchString(n) {
			return Content{}, fmt.Errorf("%w: payment notice %q does not match the 18-digit mask", ErrInvalidContent, n)
		}
		c.PaymentNotice = n
	}

	return c, nil
}

func validRecipient(code string) error {
	if !fiscalCodeRE.MatchString(code) {
		return fmt.Errorf("%w: recipient %q is not a 16-char fiscal code", ErrInvalidContent, code)
	}
	return nil
}
