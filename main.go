// SPDX-License-Identifier: GPL-3.0-or-later
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/CrawX/go-imap-phishguard/api"
	"github.com/CrawX/go-imap-phishguard/broadcaster"
	"github.com/CrawX/go-imap-phishguard/classifier/scorer"
	"github.com/CrawX/go-imap-phishguard/config"
	"github.com/CrawX/go-imap-phishguard/credentials"
	"github.com/CrawX/go-imap-phishguard/di"
	"github.com/CrawX/go-imap-phishguard/domain"
	"github.com/CrawX/go-imap-phishguard/imapsync"
	"github.com/CrawX/go-imap-phishguard/log"
	"github.com/CrawX/go-imap-phishguard/orchestrator"
	"github.com/CrawX/go-imap-phishguard/persistence"

	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"golang.org/x/term"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "config.toml", "path of the toml configuration")
	setPassword := flag.String("set-password", "", "store the IMAP password of the account with this address, read from stdin")
	flag.Parse()

	log.InitLogging("info")
	logger := log.Logger(log.LOG_MAIN)

	conf, err := config.ReadConfig(*configFile)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not load config")
	}
	log.SetLogLevel(conf.Loglevel)

	container, err := di.BuildContainer(conf)
	if err != nil {
		logger.WithField("error", err).Fatal("Could not build container")
	}

	if *setPassword != "" {
		err = container.Invoke(func(k *credentials.Keyring) error {
			return storePassword(k, conf, *setPassword)
		})
		if err != nil {
			logger.WithField("error", dig.RootCause(err)).Fatal("Could not store password")
		}
		logger.WithField("account", *setPassword).Info("Stored password")
		return
	}

	err = container.Invoke(run)
	if err != nil {
		logger.WithField("error", dig.RootCause(err)).Fatal("Could not run")
	}
}

type app struct {
	dig.In

	Config       *config.Config
	Persistence  *persistence.Persistence
	Scorer       *scorer.Scorer
	Orchestrator *orchestrator.Orchestrator
	Broadcaster  *broadcaster.Broadcaster
	Scheduler    *imapsync.Scheduler
	Server       *api.Server
}

func run(a app) error {
	logger := log.Logger(log.LOG_MAIN)
	defer a.Persistence.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, account := range a.Config.Accounts {
		_, err := a.Persistence.UpsertAccount(ctx, account.Account())
		if err != nil {
			return fmt.Errorf("could not register account %s: %w", account.Address, err)
		}
	}

	err := a.Scorer.Reload(ctx)
	if err != nil {
		return fmt.Errorf("could not load scoring model: %w", err)
	}

	a.Orchestrator.Run(ctx)
	_, err = a.Orchestrator.Recover(ctx)
	if err != nil {
		return fmt.Errorf("could not recover pending messages: %w", err)
	}
	logger.WithFields(logrus.Fields{"accounts": len(a.Config.Accounts), "backend": a.Scorer.ModelInfo().Backend}).Info("Started detection")

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.Scheduler.Run(ctx)
	}()

	server := &http.Server{
		Addr:              a.Config.Listen,
		Handler:           a.Server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("listen", a.Config.Listen).Info("Serving api")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-serverErr:
		logger.WithField("error", err).Error("Api server stopped")
		stop()
	}

	// event streams only end once their subscriptions are closed
	a.Broadcaster.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithField("error", err).Warn("Could not shut down api server")
	}

	<-schedulerDone
	a.Orchestrator.Wait()
	logger.Info("Shutdown complete")

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// storePassword writes the password of a configured account into the
// keyring. Unknown addresses are stored under the address itself.
func storePassword(k *credentials.Keyring, conf *config.Config, address string) error {
	account := &domain.Account{Address: address}
	for _, a := range conf.Accounts {
		if strings.EqualFold(a.Address, address) {
			account.CredentialRef = a.CredentialRef
			break
		}
	}

	password, err := readPassword()
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	return k.SetPassword(account, password)
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("could not read password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("could not read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
