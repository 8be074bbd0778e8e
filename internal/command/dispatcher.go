// Package command turns in-application chat commands into login and web
// code operations and renders the replies players see.
package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/paperlogin/paperlogin/internal/codegen"
	"github.com/paperlogin/paperlogin/internal/identity"
	"github.com/paperlogin/paperlogin/internal/logging"
	"github.com/paperlogin/paperlogin/internal/logincode"
	"github.com/paperlogin/paperlogin/internal/webverify"
)

// Command names.
const (
	NameLogin  = "login"
	NameVerify = "verify"
)

const verifyUsage = "/verify <code>"

// Sender is whoever typed the command. Console senders have no identity.
type Sender struct {
	Identity identity.Identity
	Console  bool
}

// Player returns a Sender for an in-application actor.
func Player(id identity.Identity) Sender { return Sender{Identity: id} }

// Dispatcher routes parsed commands to the code managers.
type Dispatcher struct {
	login  *logincode.Manager
	web    *webverify.Manager
	logger *slog.Logger
}

// NewDispatcher builds a dispatcher over the two managers.
func NewDispatcher(login *logincode.Manager, web *webverify.Manager, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{login: login, web: web, logger: logger}
}

// Dispatch executes line on behalf of sender and writes the reply to out.
// Failures are rendered with PlayerMessage and also returned so the caller
// can log them.
func (d *Dispatcher) Dispatch(ctx context.Context, sender Sender, line string, out io.Writer) error {
	err := d.dispatch(ctx, sender, line, out)
	if err != nil {
		fmt.Fprintln(out, PlayerMessage(err))
		logging.FromContext(ctx, d.logger).Debug("command failed", slog.String("line", redact(line)), slog.Any("error", err))
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, sender Sender, line string, out io.Writer) error {
	cmd, err := Parse(line)
	if err != nil {
		return err
	}
	switch cmd.Name {
	case NameLogin:
		if sender.Console {
			return ErrNotPlayer(cmd.Name)
		}
		return d.loginCmd(ctx, sender.Identity, out)
	case NameVerify:
		if sender.Console {
			return ErrNotPlayer(cmd.Name)
		}
		if len(cmd.Args) < 1 {
			return ErrInvalidArgs(cmd.Name, verifyUsage)
		}
		return d.verifyCmd(ctx, sender.Identity, cmd.Args[0], out)
	default:
		return ErrUnknownCommand(cmd.Name)
	}
}

func (d *Dispatcher) loginCmd(ctx context.Context, id identity.Identity, out io.Writer) error {
	issued, err := d.login.IssueOrReuse(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Login Code: %s\n", issued.Code)
	if url, ok := d.login.DeriveExternalURL(issued.Code); ok {
		fmt.Fprintf(out, "Click to login: %s\n", url)
	}
	fmt.Fprintf(out, "Expires in %s\n", humanize(d.login.Validity()))
	return nil
}

func (d *Dispatcher) verifyCmd(ctx context.Context, id identity.Identity, code string, out io.Writer) error {
	if err := codegen.Check(code); err != nil {
		return err
	}
	exists, err := d.web.Exists(ctx, code)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintln(out, invalidCode)
		return nil
	}

	ok, err := d.web.Claim(ctx, id, code)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(out, "✓ Verification successful")
	} else {
		fmt.Fprintln(out, "Verification failed")
	}
	return nil
}

// humanize renders a validity window the way players read it.
func humanize(d time.Duration) string {
	if d < time.Minute {
		return plural(int(d/time.Second), "second")
	}
	return plural(int(d.Round(time.Minute)/time.Minute), "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// redact drops arguments, which may carry codes, from logged command lines.
func redact(line string) string {
	cmd, err := Parse(line)
	if err != nil {
		return ""
	}
	return "/" + cmd.Name
}
