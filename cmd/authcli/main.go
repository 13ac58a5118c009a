// Command authcli is a terminal client for the session manager. It keeps
// its session in the configured origin store (encrypted file by default),
// so separate invocations — and separate machines, with the redis backend —
// behave like tabs of one browser origin: a logout in one is observed by
// the others.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/authmodel"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/store"
	"github.com/jrsteele09/go-auth-client/store/filestore"
	"github.com/jrsteele09/go-auth-client/store/memstore"
	"github.com/jrsteele09/go-auth-client/store/redistore"
)

const usage = `usage: authcli <command> [flags]

commands:
  login    -email <email> -password <password>
  register -email <email> -password <password> [-first <name>] [-last <name>]
  logout
  whoami
  watch
  verify-email -token <token>
  forgot       -email <email>
  reset        -token <token> -password <new password>
  resend       -email <email>
`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	controller, api, err := session.New(cfg.BaseURL, st, session.WithHTTPTimeout(cfg.HTTPTimeout))
	if err != nil {
		return err
	}
	defer controller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	controller.Bootstrap(ctx)

	switch command {
	case "login":
		return cmdLogin(ctx, controller, args)
	case "register":
		return cmdRegister(ctx, controller, args)
	case "logout":
		controller.Logout(ctx)
		return nil
	case "whoami":
		return cmdWhoami(controller)
	case "watch":
		return cmdWatch(controller)
	case "verify-email":
		return cmdVerifyEmail(ctx, api, args)
	case "forgot":
		return cmdForgot(ctx, api, args)
	case "reset":
		return cmdReset(ctx, api, args)
	case "resend":
		return cmdResend(ctx, api, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return memstore.NewOrigin().Tab(), nil
	case config.StoreRedis:
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTH_REDIS_URL: %w", err)
		}
		return redistore.New(context.Background(), redis.NewClient(options), cfg.RedisNamespace)
	default:
		key, err := cfg.SessionKey()
		if err != nil {
			return nil, err
		}
		return filestore.New(cfg.SessionFile, key, filestore.WithPollInterval(cfg.PollInterval))
	}
}

func cmdLogin(ctx context.Context, controller *session.Controller, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	fs.Parse(args) //nolint:errcheck

	user, err := controller.Login(ctx, authmodel.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", user.DisplayName())
	return nil
}

func cmdRegister(ctx context.Context, controller *session.Controller, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	fs.Parse(args) //nolint:errcheck

	req := authmodel.RegisterRequest{Email: *email, Password: *password}
	if *first != "" {
		req.FirstName = utils.Ptr(*first)
	}
	if *last != "" {
		req.LastName = utils.Ptr(*last)
	}

	resp, err := controller.Register(ctx, req)
	if err != nil {
		return err
	}
	if resp.Tokens.Complete() {
		fmt.Printf("registered and logged in as %s\n", resp.User.DisplayName())
	} else {
		fmt.Println("registered; check your email to verify the account before logging in")
	}
	return nil
}

func cmdWhoami(controller *session.Controller) error {
	snap := controller.Snapshot()
	if !snap.Authenticated {
		fmt.Println("not logged in")
		return nil
	}
	fmt.Printf("%s <%s> role=%s verified=%t\n",
		snap.User.DisplayName(), snap.User.Email, snap.User.Role, snap.User.IsVerified)
	return nil
}

// cmdWatch prints every session state change until interrupted. With the
// file or redis backend it demonstrates cross-process logout propagation.
func cmdWatch(controller *session.Controller) error {
	figure.NewFigure("Auth Client", "cybermedium", true).Print()
	fmt.Println()

	printSnap := func(snap session.Snapshot) {
		if snap.Authenticated {
			fmt.Printf("session: authenticated as %s\n", snap.User.Email)
		} else {
			fmt.Println("session: unauthenticated")
		}
	}
	printSnap(controller.Snapshot())

	cancel := controller.Subscribe(printSnap)
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return nil
}

func cmdVerifyEmail(ctx context.Context, api *authapi.Client, args []string) error {
	fs := flag.NewFlagSet("verify-email", flag.ExitOnError)
	token := fs.String("token", "", "verification token from the email link")
	fs.Parse(args) //nolint:errcheck

	result, err := api.VerifyEmail(ctx, *token)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("verification failed: %s", result.Error)
	}
	fmt.Println(result.Message)
	return nil
}

func cmdForgot(ctx context.Context, api *authapi.Client, args []string) error {
	fs := flag.NewFlagSet("forgot", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	fs.Parse(args) //nolint:errcheck

	if err := api.ForgotPassword(ctx, *email); err != nil {
		return err
	}
	fmt.Println("password reset email sent")
	return nil
}

func cmdReset(ctx context.Context, api *authapi.Client, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	token := fs.String("token", "", "reset token from the email link")
	password := fs.String("password", "", "new password")
	fs.Parse(args) //nolint:errcheck

	if err := api.ResetPassword(ctx, *token, *password); err != nil {
		return err
	}
	fmt.Println("password updated")
	return nil
}

func cmdResend(ctx context.Context, api *authapi.Client, args []string) error {
	fs := flag.NewFlagSet("resend", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	fs.Parse(args) //nolint:errcheck

	if err := api.ResendVerification(ctx, *email); err != nil {
		return err
	}
	fmt.Println("verification email sent")
	return nil
}
