//go:build windows && !dev

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/getlantern/systray"

	"github.com/bartek5186/saunasync/internal/resync"
)

func main() {
	// kontekst sterujący życiem procesu (CTRL+C / zamknięcie sesji)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, appOptions{out: os.Stdout})
	if err != nil {
		panic(err)
	}
	log := app.log
	s := app.syncer
	app.runServer(ctx)

	// jeśli proces dostanie sygnał – zatrzymaj syncer i zamknij tray
	go func() {
		<-ctx.Done()
		s.Stop()
		systray.Quit()
	}()

	systray.Run(func() {
		systray.SetTitle("SaunaSync")
		systray.SetTooltip(fmt.Sprintf("SaunaSync %s", ver))

		mStart := systray.AddMenuItem("Start synchronizacji", "Uruchom harmonogram")
		mStop := systray.AddMenuItem("Stop synchronizacji", "Zatrzymaj harmonogram")
		mStop.Disable()
		mResync := systray.AddMenuItem("Pełny resync teraz", "Skasuj i odtwórz katalog")

		systray.AddSeparator()
		mOpenLogs := systray.AddMenuItem("Otwórz logi", "Pokaż plik log")
		mOpenCfg := systray.AddMenuItem("Ustawienia (config.json)", "Otwórz plik konfiguracyjny")
		mReload := systray.AddMenuItem("Przeładuj konfigurację", "Wczytaj ponownie config.json")
		systray.AddSeparator()
		mAbout := systray.AddMenuItem(fmt.Sprintf("O programie (%s)", ver), "")
		mQuit := systray.AddMenuItem("Wyjście", "Zamknij aplikację")

		// AutoStart harmonogramu (nie mylić z autostartem Windows!)
		if app.cfg.AutoStart {
			if err := s.Start(ctx); err == nil {
				mStart.Disable()
				mStop.Enable()
				systray.SetTooltip(fmt.Sprintf("SaunaSync %s — działa", ver))
			} else {
				log.Error().Msgf("AutoStart nieudany: %v", err)
				systray.SetTooltip(fmt.Sprintf("SaunaSync %s — błąd startu", ver))
			}
		}

		go func() {
			for {
				select {
				case <-mStart.ClickedCh:
					if err := s.Start(ctx); err != nil {
						log.Error().Msgf("Start error: %v", err)
						systray.SetTooltip(fmt.Sprintf("SaunaSync %s — błąd startu", ver))
						continue
					}
					mStart.Disable()
					mStop.Enable()
					systray.SetTooltip(fmt.Sprintf("SaunaSync %s — działa", ver))

				case <-mStop.ClickedCh:
					s.Stop()
					mStop.Disable()
					mStart.Enable()
					systray.SetTooltip(fmt.Sprintf("SaunaSync %s — zatrzymane", ver))

				case <-mResync.ClickedCh:
					mResync.Disable()
					go func() {
						defer mResync.Enable()
						rep, err := s.ResyncNow(ctx)
						switch {
						case errors.Is(err, resync.ErrLeaseHeld):
							systray.SetTooltip(fmt.Sprintf("SaunaSync %s — resync trwa gdzie indziej", ver))
						case err != nil:
							systray.SetTooltip(fmt.Sprintf("SaunaSync %s — resync nieudany", ver))
						default:
							systray.SetTooltip(fmt.Sprintf("SaunaSync %s — %s", ver, rep.Summary()))
						}
					}()

				case <-mOpenLogs.ClickedCh:
					openInExplorer(filepath.Join(app.appDir, "app.log"))

				case <-mOpenCfg.ClickedCh:
					openInExplorer(app.cfgPath)

				case <-mReload.ClickedCh:
					if err := app.reload(ctx); err != nil {
						log.Error().Msgf("Błąd reloadu: %v", err)
					}

				case <-mAbout.ClickedCh:
					log.Info().Msgf("SaunaSync %s | %s", ver, runtime.Version())

				case <-mQuit.ClickedCh:
					// łagodne zamykanie
					cancel()
					s.Stop()
					systray.Quit()
					return
				}
			}
		}()
	}, func() {
		app.Close()
		time.Sleep(50 * time.Millisecond)
	})
}

// przenośne otwieranie plików/katalogów w domyślnej aplikacji
func openInExplorer(path string) {
	switch runtime.GOOS {
	case "windows":
		// "start" musi być uruchomiony przez cmd /C, z pustym tytułem okna ""
		_ = exec.Command("cmd", "/C", "start", "", path).Start()
	case "darwin":
		_ = exec.Command("open", path).Start()
	default:
		_ = exec.Command("xdg-open", path).Start()
	}
}
