//go:build !windows || dev

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bartek5186/saunasync/internal/db"
	"github.com/bartek5186/saunasync/internal/integrations"
	"github.com/bartek5186/saunasync/internal/permissions"
	"github.com/bartek5186/saunasync/internal/resync"
)

func main() {
	once := flag.Bool("once", false, "wykonaj jeden resync i zakończ (kod 1 przy błędzie)")
	asJSON := flag.Bool("json", false, "z -once: raport jako JSON na stdout")
	dir := flag.String("dir", "", "katalog danych (config.json, app.log, baza)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var out io.Writer = os.Stdout
	if *asJSON {
		out = os.Stderr
	}
	app, err := newApp(ctx, appOptions{dir: *dir, withConsole: !*asJSON, out: out})
	if err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	if *once {
		code := runOnce(ctx, app, *asJSON)
		app.Close()
		os.Exit(code)
	}
	defer app.Close()
	repl(ctx, cancel, app)
}

func runOnce(ctx context.Context, app *App, asJSON bool) int {
	if app.proc == nil {
		fmt.Fprintln(os.Stderr, "resync: brak triggera i źródła produktów w konfiguracji")
		return 1
	}
	rep, err := app.proc.Run(ctx, "cli")
	if asJSON && rep != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "resync:", err)
		return 1
	}
	return 0
}

func repl(ctx context.Context, cancel context.CancelFunc, app *App) {
	log := app.log
	s := app.syncer
	app.runServer(ctx)

	log.Info().Msg("Aplikacja (CLI) uruchomiona")
	if app.cfg.AutoStart {
		if err := s.Start(ctx); err != nil {
			log.Error().Msgf("AutoStart nieudany: %v", err)
		} else {
			log.Info().Msgf("SaunaSync %s — działa", ver)
		}
	}

	const help = "Komendy: start | stop | resync | reload | status | runs | grant <user> <role> [edit] | paths | quit"
	fmt.Println("SaunaSync CLI", ver)
	fmt.Println(help)

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				return
			}
			line = l
		}

		fields := strings.Fields(line)
		cmd := ""
		if len(fields) > 0 {
			cmd = strings.ToLower(fields[0])
		}
		switch cmd {
		case "start":
			if err := s.Start(ctx); err != nil {
				log.Error().Msgf("Start error: %v", err)
				fmt.Println("Błąd startu:", err)
				continue
			}
			fmt.Println("Start OK")
		case "stop":
			s.Stop()
			fmt.Println("Zatrzymano")
		case "resync":
			rep, err := s.ResyncNow(ctx)
			switch {
			case errors.Is(err, resync.ErrLeaseHeld):
				fmt.Println("Resync już trwa w innym procesie")
			case err != nil:
				fmt.Println("Resync nieudany:", err)
			default:
				fmt.Printf("Resync OK: skasowano %d, utworzono %d, błędów %d\n", rep.Deleted, rep.Synced, rep.Errors)
			}
		case "reload":
			if err := app.reload(ctx); err != nil {
				log.Error().Msgf("Błąd reloadu: %v", err)
				fmt.Println("Błąd reloadu:", err)
				continue
			}
			fmt.Println("Konfiguracja przeładowana")
		case "status":
			if s.IsRunning() {
				fmt.Println("Status: DZIAŁA")
			} else {
				fmt.Println("Status: ZATRZYMANY")
			}
			fmt.Println("Integracje:", strings.Join(integrations.Names(), ", "))
			if rep := s.LastReport(); rep != nil {
				fmt.Printf("Ostatni resync: %s (%s) %s\n", rep.Status, rep.StartedAt.Format(time.RFC3339), rep.Summary())
			}
			if at, ok, err := db.GetKV(ctx, app.db.DB, resync.LastCompletedKey); err == nil && ok {
				fmt.Println("Ostatni udany resync:", at)
			}
		case "grant":
			p, err := parseGrant(fields[1:])
			if err != nil {
				fmt.Println(err)
				continue
			}
			if err := app.grant(ctx, p); err != nil {
				fmt.Println("Błąd:", err)
				continue
			}
			fmt.Printf("Uprawnienia %s: role=%s edit=%v\n", p.UserID, p.Role, p.CanEditContent)
		case "runs":
			runs, err := db.RecentRuns(ctx, app.db.DB, 10)
			if err != nil {
				fmt.Println("Błąd:", err)
				continue
			}
			for _, r := range runs {
				fmt.Printf("%s  %-9s  by=%-8s deleted=%d synced=%d errors=%d %s\n",
					r.StartedAt.Format(time.RFC3339), r.Status, r.TriggeredBy, r.Deleted, r.Synced, r.Errors, r.Message)
			}
		case "paths":
			fmt.Println("Logi:", filepath.Join(app.appDir, "app.log"))
			fmt.Println("Config:", app.cfgPath)
			fmt.Println("DB:", app.db.Path)
		case "quit", "exit":
			cancel()
			s.Stop()
			time.Sleep(50 * time.Millisecond)
			return
		case "":
			// enter – ignoruj
		default:
			fmt.Println("Nieznana komenda.", help)
		}
	}
}

// parseGrant: grant <user> <role> [edit]
func parseGrant(args []string) (permissions.Permission, error) {
	if len(args) < 2 || len(args) > 3 || (len(args) == 3 && args[2] != "edit") {
		return permissions.Permission{}, errors.New("użycie: grant <user> <role> [edit]")
	}
	return permissions.Permission{UserID: args[0], Role: args[1], CanEditContent: len(args) == 3}, nil
}
