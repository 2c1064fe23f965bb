package render

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/kursadbilgin/notify-pipeline/internal/domain"
)

const (
	layoutOpen  = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;color:#222">`
	layoutClose = `</body></html>`
)

// WelcomeEmail greets a newly registered user.
func WelcomeEmail(p domain.UserRegistered) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(layoutOpen)
		fmt.Fprintf(&b, `<h1>Welcome, %s %s!</h1>`,
			templ.EscapeString(p.FirstName), templ.EscapeString(p.LastName))
		b.WriteString(`<p>Your registration is confirmed. We are glad to have you with us.</p>`)
		b.WriteString(layoutClose)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// LikesDigestEmail lists the reviews of one user that collected likes on date.
func LikesDigestEmail(date string, u domain.UserLikes) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(layoutOpen)
		fmt.Fprintf(&b, `<h1>Hi %s %s,</h1>`,
			templ.EscapeString(u.FirstName), templ.EscapeString(u.LastName))
		fmt.Fprintf(&b, `<p>Your reviews were liked on %s:</p><ul>`, templ.EscapeString(date))
		for _, r := range u.Reviews {
			title := r.Title
			if strings.TrimSpace(title) == "" {
				title = r.ReviewID
			}
			fmt.Fprintf(&b, `<li><strong>%s</strong>: %d %s</li>`,
				templ.EscapeString(title), r.Likes, plural(r.Likes, "like", "likes"))
		}
		b.WriteString(`</ul>`)
		b.WriteString(layoutClose)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
