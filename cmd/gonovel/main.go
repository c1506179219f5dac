/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"gonovel/internal/backend"
	"gonovel/internal/compiler"
	"gonovel/internal/config"
	"gonovel/internal/crash"
	"gonovel/internal/domain"
	"gonovel/internal/engine"
	"gonovel/internal/export"
	"gonovel/internal/history"
	applog "gonovel/internal/log"
	"gonovel/internal/resources"
	"gonovel/internal/storage"
	"gonovel/internal/ui"
	"gonovel/internal/vars"
	"gonovel/internal/version"
)

const starterScript = `[label start]
[spk Narrator]
Welcome, reader.
[choices]
* Begin > begin
* Start over > start
[label begin]
[add visits=1]
This is visit number {visits}.
`

var timeNow = time.Now

type app struct {
	cfg    config.AppConfig
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	log    *slog.Logger
}

func main() {
	cfg, err := config.Load()
	applog.Init(cfg.Logging.LogOptions())
	if err != nil {
		applog.WithComponent("cli").Warn("config not loaded, using defaults", slog.Any("err", err))
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, cfg, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "gonovel %s\n\n", version.String())
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  gonovel version                          Show version")
	fmt.Fprintln(w, "  gonovel init <dir> <name>                Create a story with a starter script")
	fmt.Fprintln(w, "  gonovel check [dir]                      Parse and compile every script")
	fmt.Fprintln(w, "  gonovel run [-entry id] [dir]            Play a story in the terminal")
	fmt.Fprintln(w, "                                           (enter: next, 1-9: choose, b: back, s: skip, q: quit)")
	fmt.Fprintln(w, "  gonovel run -remote <story> [-url u]     Play a story published to a server")
	fmt.Fprintln(w, "  gonovel index [dir]                      Update the search index")
	fmt.Fprintln(w, "  gonovel search [flags] <dir> <text>      Full-text search over dialogue")
	fmt.Fprintln(w, "  gonovel label <dir> <name>               Find where a label is defined")
	fmt.Fprintln(w, "  gonovel snapshot <dir> <script>          Save a snapshot of a script")
	fmt.Fprintln(w, "  gonovel export [flags] <dir> [out.pdf]   Export a read-through PDF")
	fmt.Fprintln(w, "  gonovel publish <dir>                    Push scripts to Postgres (GNV_PG_DSN)")
	fmt.Fprintln(w, "  gonovel serve                            Serve published scripts over HTTP")
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, cfg config.AppConfig, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{cfg: cfg, in: in, out: out, errOut: errOut, log: applog.WithComponent("cli")}
	if len(args) == 0 {
		usage(out)
		return 0
	}
	a.log.Debug("start", slog.String("cmd", args[0]), slog.Int("args", len(args)-1))

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Fprintf(out, "gonovel %s\n", version.String())
		return 0
	case "help", "-h", "--help":
		usage(out)
		return 0
	case "init":
		err = a.cmdInit(args[1:])
	case "check":
		err = a.cmdCheck(ctx, args[1:])
	case "run":
		err = a.cmdRun(ctx, args[1:])
	case "index":
		err = a.cmdIndex(ctx, args[1:])
	case "search":
		err = a.cmdSearch(ctx, args[1:])
	case "label":
		err = a.cmdLabel(ctx, args[1:])
	case "snapshot":
		err = a.cmdSnapshot(ctx, args[1:])
	case "export":
		err = a.cmdExport(args[1:])
	case "publish":
		err = a.cmdPublish(ctx, args[1:])
	case "serve":
		err = a.cmdServe(ctx, args[1:])
	default:
		fmt.Fprintf(errOut, "unknown command %q\n\n", args[0])
		usage(errOut)
		return 2
	}
	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		fmt.Fprintln(errOut, ue.msg)
		usage(errOut)
		return 2
	default:
		a.log.Error("command failed", slog.String("cmd", args[0]), slog.Any("err", err))
		fmt.Fprintln(errOut, "Error:", err)
		return 1
	}
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func newFlags(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

func (a *app) storyDir(fs *flag.FlagSet, pos int) string {
	dir := fs.Arg(pos)
	if dir == "" {
		dir = a.cfg.Story.Root
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir
	}
	return abs
}

func (a *app) openStory(dir string) (*storage.StoryHandle, error) {
	h, err := storage.Open(dir)
	if err != nil {
		return nil, err
	}
	if h.ScriptExt == "" {
		h.ScriptExt = a.cfg.Story.ScriptExt
	}
	return h, nil
}

func (a *app) cmdInit(args []string) error {
	if len(args) < 2 {
		return usageError{"init requires <dir> and <name>"}
	}
	abs, _ := filepath.Abs(args[0])
	entry := a.cfg.Story.Entry
	a.log.Info("init story", slog.String("root", abs), slog.String("name", args[1]))
	h, err := storage.InitStory(abs, domain.Story{
		Name:    args[1],
		Entry:   entry,
		Scripts: []domain.ScriptRef{{ID: entry}},
	})
	if err != nil {
		return err
	}
	h.ScriptExt = a.cfg.Story.ScriptExt
	if err := storage.WriteScript(h, entry, starterScript); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Created story at", abs)
	return nil
}

func (a *app) cmdCheck(ctx context.Context, args []string) error {
	fs := newFlags("check", a.errOut)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	h, err := a.openStory(a.storyDir(fs, 0))
	if err != nil {
		return err
	}
	if !h.Story.HasScript(h.Story.Entry) {
		return fmt.Errorf("entry script %q is not listed in the manifest", h.Story.Entry)
	}
	failed := 0
	for _, ref := range h.Story.Scripts {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := storage.ReadScript(h, ref.ID)
		if err != nil {
			fmt.Fprintf(a.out, "%s: %v\n", ref.ID, err)
			failed++
			continue
		}
		p, diags, err := compiler.Build(ref.ID, src)
		for _, d := range diags {
			fmt.Fprintf(a.out, "%s:%d: warning: %s\n", ref.ID, d.Line, d.Message)
		}
		if err != nil {
			fmt.Fprintf(a.out, "%s: %v\n", ref.ID, err)
			failed++
			continue
		}
		fmt.Fprintf(a.out, "%s: ok (%d actions)\n", ref.ID, p.Len())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed", failed, len(h.Story.Scripts))
	}
	return nil
}

func (a *app) cmdRun(ctx context.Context, args []string) error {
	fs := newFlags("run", a.errOut)
	entry := fs.String("entry", "", "script to start with (default: manifest entry)")
	remote := fs.String("remote", "", "play this published story from the server")
	url := fs.String("url", a.cfg.Backend.BaseURL, "server base URL for -remote")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}

	var (
		h      *storage.StoryHandle
		loader engine.Loader
		root   string
	)
	if *remote != "" {
		client := backend.NewClient(*url, "")
		client.AccessKey = a.cfg.Backend.AccessKey
		if client.AccessKey == "" {
			client.AccessKey = backend.AccessKey(a.cfg.Backend.AuthSecret)
		}
		if err := client.Authenticate(ctx, "player"); err != nil {
			return err
		}
		loader = backend.NewLoader(client, *remote)
		root = a.storyDir(fs, 0)
		if *entry == "" {
			*entry = a.cfg.Story.Entry
		}
	} else {
		root = a.storyDir(fs, 0)
		var err error
		if h, err = a.openStory(root); err != nil {
			return err
		}
		loader = storage.NewLoader(h)
		if *entry == "" {
			*entry = h.Story.Entry
		}
	}

	p, err := loader.Load(ctx, *entry)
	if err != nil {
		return err
	}
	console := ui.NewConsole(a.out)
	e := engine.New(console.Context(vars.NewStore(), resources.NewDir(root)),
		engine.WithLoader(loader),
		engine.WithMaxSteps(a.cfg.Engine.MaxStepsPerTurn),
		engine.WithHistory(history.New(history.Config{})),
		engine.WithLogger(applog.WithComponent("engine")),
	)
	if err := e.Load(p); err != nil {
		return err
	}
	defer crash.Recover(h, e)
	return ui.Play(ctx, e, console, a.in)
}

func (a *app) cmdIndex(ctx context.Context, args []string) error {
	fs := newFlags("index", a.errOut)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	h, err := a.openStory(a.storyDir(fs, 0))
	if err != nil {
		return err
	}
	rebuilt, err := storage.DetectAndRebuildIndex(ctx, h)
	if err != nil {
		return err
	}
	if rebuilt {
		fmt.Fprintln(a.out, "index was unreadable and has been rebuilt")
	}
	st, err := storage.IndexStory(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "indexed %d, unchanged %d, missing %d, removed %d\n", st.Indexed, st.Skipped, st.Missing, st.Removed)
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := newFlags("search", a.errOut)
	var q storage.SearchQuery
	fs.StringVar(&q.Speaker, "speaker", "", "only lines spoken by this speaker")
	fs.StringVar(&q.Script, "script", "", "only lines of this script")
	kind := fs.String("kind", "", "dialogue or choice")
	fs.IntVar(&q.Limit, "limit", 20, "maximum results")
	fs.IntVar(&q.Offset, "offset", 0, "skip this many results")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() < 2 {
		return usageError{"search requires <dir> and <text>"}
	}
	q.Text = strings.Join(fs.Args()[1:], " ")
	if *kind != "" {
		q.Kinds = []string{*kind}
	}
	results, err := storage.SearchDialogue(ctx, a.storyDir(fs, 0), q)
	if err != nil {
		return err
	}
	for _, r := range results {
		who := r.Speaker
		if who == "" {
			who = r.Kind
		}
		fmt.Fprintf(a.out, "%s:%d [%d] %s: %s\n", r.ScriptID, r.Line, r.Index, who, r.Snippet)
	}
	fmt.Fprintf(a.out, "%d result(s)\n", len(results))
	return nil
}

func (a *app) cmdLabel(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError{"label requires <dir> and <name>"}
	}
	abs, _ := filepath.Abs(args[0])
	refs, err := storage.FindLabel(ctx, abs, args[1])
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("label %q not found", args[1])
	}
	for _, r := range refs {
		fmt.Fprintf(a.out, "%s: %s at action %d\n", r.ScriptID, r.Name, r.Index)
	}
	return nil
}

func (a *app) cmdSnapshot(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError{"snapshot requires <dir> and <script>"}
	}
	abs, _ := filepath.Abs(args[0])
	h, err := a.openStory(abs)
	if err != nil {
		return err
	}
	src, err := storage.ReadScript(h, args[1])
	if err != nil {
		return err
	}
	if err := storage.SaveScriptSnapshot(ctx, h, args[1], src, timeNow()); err != nil {
		return err
	}
	pruned, err := storage.PruneOldScriptSnapshots(ctx, h, args[1], 20)
	if err != nil {
		return err
	}
	snaps, err := storage.ListScriptSnapshots(ctx, h, args[1], 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %d snapshot(s) kept, %d pruned\n", args[1], len(snaps), pruned)
	return nil
}

func (a *app) cmdExport(args []string) error {
	fs := newFlags("export", a.errOut)
	var opt export.PDFOptions
	fs.BoolVar(&opt.ShowIndex, "index", false, "prefix rows with their action index")
	fs.BoolVar(&opt.ShowStage, "stage", false, "include staging commands")
	fs.StringVar(&opt.PageSize, "page", "A4", "page size: A4, A5 or Letter")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	h, err := a.openStory(a.storyDir(fs, 0))
	if err != nil {
		return err
	}
	outPath := fs.Arg(1)
	if outPath == "" {
		outPath = "story.pdf"
	}
	path, err := export.StoryPDF(h, nil, outPath, opt)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Exported", path)
	return nil
}

func (a *app) openBackend(ctx context.Context) (*backend.Store, error) {
	if a.cfg.Backend.DSN == "" {
		return nil, fmt.Errorf("no database configured; set %s or backend.dsn", config.EnvPGDSN)
	}
	octx, cancel := context.WithTimeout(ctx, a.cfg.Backend.Timeout())
	defer cancel()
	st, err := backend.Open(octx, a.cfg.Backend.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(octx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func (a *app) cmdPublish(ctx context.Context, args []string) error {
	fs := newFlags("publish", a.errOut)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	h, err := a.openStory(a.storyDir(fs, 0))
	if err != nil {
		return err
	}
	st, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	n, err := st.PublishStory(ctx, h)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Published %d script(s) of %q\n", n, h.Story.Name)
	return nil
}

func (a *app) cmdServe(ctx context.Context, args []string) error {
	fs := newFlags("serve", a.errOut)
	addr := fs.String("addr", a.cfg.Backend.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	st, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Fprintln(a.out, "Serving on", *addr)
	return backend.Serve(ctx, backend.ServerConfig{Addr: *addr, AuthSecret: a.cfg.Backend.AuthSecret}, st)
}
