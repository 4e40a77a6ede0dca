package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/umbrellashare/umbrellashare/internal/app"
	"github.com/umbrellashare/umbrellashare/internal/credential"
	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/logger"
	"github.com/umbrellashare/umbrellashare/internal/repository"
	"github.com/umbrellashare/umbrellashare/internal/service"
	"github.com/umbrellashare/umbrellashare/pkg/config"
)

func main() {
	if err := newRootCmd(os.Stdout, openFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

// opener builds the loan service one invocation runs against. token is the
// override given on the command line, if any.
type opener func(token string, log *slog.Logger) (*service.LoanService, func() error, error)

type rootOptions struct {
	token     string
	phone     string
	studentID string
	logLevel  string
}

type cli struct {
	out  io.Writer
	open opener
	opts rootOptions
	log  *slog.Logger
}

func newRootCmd(out io.Writer, open opener) *cobra.Command {
	c := &cli{out: out, open: open}

	root := &cobra.Command{
		Use:           "umbrella",
		Short:         "Borrow and return shared campus umbrellas",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.log = logger.New(cmd.ErrOrStderr(), c.opts.logLevel)
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.opts.token, "token", "", "content API token; saved for later runs")
	flags.StringVar(&c.opts.phone, "phone", "", "phone number")
	flags.StringVar(&c.opts.studentID, "student-id", "", "student id")
	flags.StringVar(&c.opts.logLevel, "log-level", "warn", "debug|info|warn|error")

	root.AddCommand(
		&cobra.Command{
			Use:   "points",
			Short: "List umbrella points and how many umbrellas each holds",
			Args:  cobra.NoArgs,
			RunE:  c.runPoints,
		},
		&cobra.Command{
			Use:   "login",
			Short: "Log in (registering on first use) and show your status",
			Args:  cobra.NoArgs,
			RunE:  c.runLogin,
		},
		&cobra.Command{
			Use:   "borrow <point-id>",
			Short: "Borrow an umbrella from a point",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.runLoan(cmd, (*service.Session).Borrow, args[0])
			},
		},
		&cobra.Command{
			Use:   "return <point-id>",
			Short: "Return your umbrella to a point",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.runLoan(cmd, (*service.Session).Return, args[0])
			},
		},
	)
	return root
}

func (c *cli) runPoints(cmd *cobra.Command, _ []string) error {
	loans, closeFn, err := c.open(c.opts.token, c.log)
	if err != nil {
		return c.fail(err)
	}
	defer closeFn()

	points, err := loans.NewSession().RefreshPoints(cmd.Context())
	if err != nil {
		return c.fail(err)
	}
	c.printPoints(points)
	return nil
}

func (c *cli) runLogin(cmd *cobra.Command, _ []string) error {
	sess, closeFn, err := c.login(cmd.Context())
	if err != nil {
		return c.fail(err)
	}
	defer closeFn()

	c.printUser(sess.User())
	c.printPoints(sess.Points())
	return nil
}

func (c *cli) runLoan(cmd *cobra.Command, step func(*service.Session, context.Context, string) (*domain.User, error), pointID string) error {
	sess, closeFn, err := c.login(cmd.Context())
	if err != nil {
		return c.fail(err)
	}
	defer closeFn()

	user, err := step(sess, cmd.Context(), pointID)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.out, "✓ Done")
	c.printUser(user)
	c.printPoints(sess.Points())
	return nil
}

// login opens the store and starts a session for --phone/--student-id.
func (c *cli) login(ctx context.Context) (*service.Session, func() error, error) {
	if c.opts.phone == "" || c.opts.studentID == "" {
		return nil, nil, errors.New("--phone and --student-id are required")
	}
	loans, closeFn, err := c.open(c.opts.token, c.log)
	if err != nil {
		return nil, nil, err
	}
	sess := loans.NewSession()
	if _, err := sess.Login(ctx, c.opts.phone, c.opts.studentID); err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return sess, closeFn, nil
}

func (c *cli) fail(err error) error {
	fmt.Fprintf(c.out, "✗ %s\n", describe(err))
	return err
}

func (c *cli) printUser(u *domain.User) {
	fmt.Fprintf(c.out, "%s (%s): %s", u.Phone, u.StudentID, u.BorrowStatus)
	if u.CurrentUmbrella != nil {
		fmt.Fprintf(c.out, " [%s]", *u.CurrentUmbrella)
	}
	fmt.Fprintln(c.out)

	if len(u.BorrowHistory) == 0 {
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tPOINT")
	for _, h := range u.BorrowHistory {
		fmt.Fprintf(w, "%s\t%s\t%s\n", h.Timestamp, h.Action, h.PointName)
	}
	w.Flush()
}

func (c *cli) printPoints(points []domain.Point) {
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLOCATION\tAVAILABLE")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", p.ID, p.Name, p.Location, p.Count)
	}
	w.Flush()
}

// describe turns workflow errors into the message shown to the user.
func describe(err error) string {
	var pwe *service.PartialWriteError
	switch {
	case errors.Is(err, domain.ErrInvalidIdentity):
		return "phone or student id is invalid"
	case errors.Is(err, domain.ErrAlreadyBorrowed):
		return "you already hold an umbrella"
	case errors.Is(err, domain.ErrNotBorrowed):
		return "you hold no umbrella"
	case errors.Is(err, domain.ErrPointNotFound):
		return "no such point"
	case errors.Is(err, domain.ErrNoUmbrellas):
		return "no umbrellas left at this point"
	case errors.Is(err, domain.ErrWrongReturnPoint):
		return "return the umbrella to the point it came from"
	case errors.As(err, &pwe):
		return "update incomplete, check your status: " + err.Error()
	case errors.Is(err, domain.ErrUnauthenticated):
		return "store credential missing or rejected, pass --token"
	default:
		return err.Error()
	}
}

// openFromEnv loads config from the environment and persists an explicit
// --token so the next run finds it without the flag.
func openFromEnv(token string, log *slog.Logger) (*service.LoanService, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if token != "" {
		path := cfg.ContentAPI.TokenFile
		if path == "" {
			path = credential.DefaultPath()
		}
		if err := credential.Persist(path, token); err != nil {
			log.Warn("failed to save token", slog.String("error", err.Error()))
		}
	}

	resolved, _ := credential.Resolve(app.TokenSources(cfg, token)...)
	backend, err := app.OpenStore(cfg, resolved, log)
	if err != nil {
		return nil, nil, err
	}

	policy, err := service.ParseReturnPolicy(cfg.ReturnPolicy)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	loans := service.NewLoanService(
		repository.NewUserRepository(backend.Store, log),
		repository.NewInventoryRepository(backend.Store, log),
		log,
		service.Options{MaxAttempts: cfg.LoanMaxAttempts, ReturnPolicy: policy},
	)
	return loans, backend.Close, nil
}
