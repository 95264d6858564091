package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/riffline/riffline"
	"github.com/riffline/riffline/collab"
	"github.com/riffline/riffline/collab/wsbus"
	"github.com/riffline/riffline/editor"
	"github.com/riffline/riffline/persist"
	"github.com/riffline/riffline/persist/sqlite"
	"github.com/spf13/cobra"
)

const relayPath = "/ws"

func newRelayCmd(app *App) *cobra.Command {
	var listen, dbPath string
	var archive []string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay edits between the clients of collaborative sessions",
		Long: `Runs the websocket relay. Clients connect to ` + relayPath + `?project=<id> and
receive every envelope the other clients of the project send.

With --archive, the relay also joins the given projects as a peer: it loads
them from the SQLite database, answers state requests from clients that join
an empty session, and saves the shared state back periodically and on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = app.Config.Relay.Listen
			}
			if dbPath == "" {
				dbPath = app.Config.Persist.SQLitePath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRelay(ctx, app, listen, dbPath, archive)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (default from config relay.listen)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database for --archive (default from config persist.sqlitePath)")
	cmd.Flags().StringSliceVar(&archive, "archive", nil, "Project ids to load, serve and save")
	return cmd
}

func runRelay(ctx context.Context, app *App, listen, dbPath string, archive []string) error {
	hub := wsbus.NewHub(nil)
	mux := http.NewServeMux()
	mux.Handle(relayPath, hub)
	server := &http.Server{Addr: listen, Handler: mux}
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	glog.Infof("[relay]listening on %s%s", listen, relayPath)

	var archivists []*archivist
	if len(archive) > 0 {
		store, err := sqlite.Open(ctx, dbPath)
		if err != nil {
			server.Close()
			return err
		}
		defer store.Close()
		url := "ws://" + dialAddr(listen) + relayPath
		for _, id := range archive {
			a, err := startArchivist(ctx, app, store, url, id)
			if err != nil {
				glog.Warningf("[relay]archive %s: %v", id, err)
				continue
			}
			archivists = append(archivists, a)
		}
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, a := range archivists {
		if aerr := a.close(shutdownCtx); aerr != nil {
			glog.Warningf("[relay]archive %s: %v", a.project, aerr)
		}
	}
	if serr := server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// dialAddr turns a listen address into one that can be dialed locally.
func dialAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return strings.Replace(listen, "0.0.0.0", "localhost", 1)
}

// archivist is a headless editor that keeps a project of the relay in the
// database while clients edit it.
type archivist struct {
	project string
	store   *sqlite.Store
	client  *wsbus.Client
	editor  *editor.Editor
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func startArchivist(ctx context.Context, app *App, store *sqlite.Store, url, projectID string) (*archivist, error) {
	p, err := store.LoadProject(ctx, projectID)
	switch {
	case errors.Is(err, persist.ErrNotFound):
		p = riffline.Project{ID: projectID, Settings: riffline.DefaultSettings()}
	case err != nil:
		return nil, err
	}
	client, err := wsbus.Dial(ctx, url, projectID, nil)
	if err != nil {
		return nil, err
	}
	ed := editor.New(editor.Options{
		Project:      p,
		Persister:    store,
		Bus:          client,
		PeerID:       collab.NewPeerID(),
		UserID:       "relay",
		Debounce:     app.Config.Autosave.Debounce.Std(),
		HistoryDepth: 1,
		ResyncGrace:  app.Config.Collab.ResyncGrace.Std(),
	})
	ctx, cancel := context.WithCancel(ctx)
	a := &archivist{project: projectID, store: store, client: client, editor: ed, cancel: cancel}
	ed.Start(ctx)
	every := app.Config.Autosave.Debounce.Std()
	if every <= 0 {
		every = time.Second
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := a.save(ctx); err != nil {
					glog.Warningf("[archive]%s: %v", projectID, err)
				}
			}
		}
	}()
	glog.Infof("[archive]%s: %d tracks, %d items", projectID, len(p.Tracks), len(p.Items))
	return a, nil
}

func (a *archivist) save(ctx context.Context) error {
	if err := a.store.SaveProject(ctx, a.editor.Project()); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func (a *archivist) close(ctx context.Context) error {
	a.cancel()
	a.wg.Wait()
	err := errors.Join(a.editor.Close(ctx), a.save(ctx))
	return errors.Join(err, a.client.Close())
}
