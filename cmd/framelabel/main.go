package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"framelabel/internal/api"
	"framelabel/internal/config"
	"framelabel/internal/database"
	"framelabel/internal/database/repository"
	"framelabel/internal/detect"
	"framelabel/internal/events"
	"framelabel/internal/service"
	"framelabel/internal/tui"
)

const usage = `framelabel - video annotation backend

Usage:
  framelabel serve                          run the HTTP API
  framelabel browse                         browse workspaces in the terminal
  framelabel workspaces                     list workspace emails
  framelabel init                           write the current config to disk
  framelabel export <email> <project> <video> [-format voc|coco|yolo] [-out path]
  framelabel detect <email> <project> <video> [-stride n] [-save]
  framelabel train <email> <project> <video> [-format voc|coco]
`

func main() {
	_ = godotenv.Load()
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[WARN] load config: %v", err)
	}

	// init needs no database or services
	if os.Args[1] == "init" {
		if err := config.Save(cfg); err != nil {
			log.Fatalf("[WARN] init: %v", err)
		}
		return
	}

	app, err := build(cfg)
	if err != nil {
		log.Fatalf("[WARN] startup: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = app.serve(ctx, cfg.Server.Addr)
	case "browse":
		err = app.browse(ctx)
	case "workspaces":
		err = app.workspaces(ctx)
	case "export":
		err = app.export(ctx, args)
	case "detect":
		err = app.detect(ctx, args)
	case "train":
		err = app.train(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("[WARN] %s: %v", cmd, err)
	}
}

// application holds the wired services for one process.
type application struct {
	cfg       config.Config
	db        *sql.DB
	detector  detect.Detector
	publisher events.Publisher

	workspace   *service.WorkspaceService
	library     *service.LibraryService
	annotations *service.AnnotationService
	labels      *service.LabelService
	exporter    *service.ExportService
	detection   *service.DetectionService
	training    *service.TrainingService
}

func build(cfg config.Config) (*application, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	publisher := events.New(cfg.Events.Brokers, cfg.Events.Topic)

	detector, err := buildDetector(cfg.Detector)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	users := repository.NewUserRepo(db)
	projects := repository.NewProjectRepo(db)
	labelRepo := repository.NewLabelRepo(db)
	annotationRepo := repository.NewAnnotationRepo(db)
	jobs := repository.NewTrainingJobRepo(db)

	ws := &service.WorkspaceService{DB: db, Users: users, Projects: projects, Root: cfg.Storage.Root}
	lib := &service.LibraryService{Workspace: ws}
	ann := &service.AnnotationService{
		DB:          db,
		Annotations: annotationRepo,
		Projects:    projects,
		Labels:      labelRepo,
		Library:     lib,
		Events:      publisher,
	}
	labels := &service.LabelService{Labels: labelRepo}

	return &application{
		cfg:         cfg,
		db:          db,
		detector:    detector,
		publisher:   publisher,
		workspace:   ws,
		library:     lib,
		annotations: ann,
		labels:      labels,
		exporter: &service.ExportService{
			Annotations: ann,
			Labels:      labels,
			Library:     lib,
			Events:      publisher,
		},
		detection: &service.DetectionService{
			Detector:    detector,
			Library:     lib,
			Annotations: ann,
			Labels:      labelRepo,
			Events:      publisher,
			MinConf:     cfg.Detector.MinConf,
		},
		training: &service.TrainingService{
			Jobs:          jobs,
			Annotations:   ann,
			Labels:        labels,
			Library:       lib,
			Events:        publisher,
			Command:       cfg.Training.Command,
			Epochs:        cfg.Training.Epochs,
			RegistryURL:   cfg.Training.RegistryURL,
			RegistryToken: cfg.Training.RegistryToken,
		},
	}, nil
}

func buildDetector(cfg config.DetectorConfig) (detect.Detector, error) {
	switch cfg.Mode {
	case "remote":
		if cfg.RemoteURL == "" {
			return nil, nil
		}
		d := detect.NewRemoteDetector(cfg.RemoteURL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.CheckHealth(ctx); err != nil {
			log.Printf("[WARN] detector at %s not healthy: %v", cfg.RemoteURL, err)
		}
		return d, nil
	case "local", "":
		if cfg.ModelPath == "" {
			return nil, nil
		}
		d, err := detect.NewOnnxDetector(detect.OnnxConfig{
			ModelPath: cfg.ModelPath,
			OrtLib:    cfg.OrtLib,
			InputSize: cfg.InputSize,
			MinConf:   cfg.MinConf,
			IoU:       cfg.IoU,
			Classes:   cfg.Classes,
		})
		if err != nil {
			return nil, fmt.Errorf("load detector model: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown detector mode %q", cfg.Mode)
	}
}

func (a *application) Close() {
	if a.detector != nil {
		a.detector.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *application) serve(ctx context.Context, addr string) error {
	srv := &api.Server{
		Workspace:   a.workspace,
		Library:     a.library,
		Annotations: a.annotations,
		Labels:      a.labels,
		Export:      a.exporter,
		Detection:   a.detection,
		Training:    a.training,
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Printf("[INFO] listening on %s", addr)

	select {
	case <-ctx.Done():
		log.Printf("[INFO] shutting down")
		return httpSrv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (a *application) browse(ctx context.Context) error {
	app := tui.New(ctx, tui.Services{
		Workspace:   a.workspace,
		Library:     a.library,
		Annotations: a.annotations,
	})
	_, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
	return err
}

func (a *application) workspaces(ctx context.Context) error {
	users, err := a.workspace.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Printf("%s\t%s\n", u.ID, u.Email)
	}
	return nil
}

// resolve maps an email and project name onto their ids.
func (a *application) resolve(ctx context.Context, email, projectName string) (uid, pid string, err error) {
	u, err := a.workspace.EnterWorkspace(ctx, email)
	if err != nil {
		return "", "", err
	}
	projects, err := a.workspace.ListProjects(ctx, u.ID)
	if err != nil {
		return "", "", err
	}
	for _, p := range projects {
		if p.Name == projectName {
			return u.ID, p.ID, nil
		}
	}
	return "", "", fmt.Errorf("project %q: %w", projectName, service.ErrNotFound)
}

func (a *application) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", service.FormatVOC, "export format: voc, coco or yolo")
	out := fs.String("out", "", "output path (default <video>_annotations.zip or .json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: export <email> <project> <video>")
	}
	email, project, video := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	uid, pid, err := a.resolve(ctx, email, project)
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		ext := "zip"
		if *format == service.FormatCOCO {
			ext = "json"
		}
		path = fmt.Sprintf("%s_annotations.%s", video, ext)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := a.exporter.Export(ctx, uid, pid, video, *format, f); err != nil {
		os.Remove(path)
		return err
	}
	log.Printf("[INFO] wrote %s", path)
	return nil
}

func (a *application) detect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	stride := fs.Int("stride", 1, "process every nth frame")
	save := fs.Bool("save", false, "store detections as annotations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: detect <email> <project> <video>")
	}
	uid, pid, err := a.resolve(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	res, err := a.detection.DetectVideo(ctx, uid, pid, fs.Arg(2), *stride, *save)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range res.Counts {
		total += n
	}
	log.Printf("[INFO] %d detections across %d frames", total, len(res.Frames))
	return nil
}

func (a *application) train(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	format := fs.String("format", service.FormatCOCO, "dataset format: voc or coco")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: train <email> <project> <video>")
	}
	uid, pid, err := a.resolve(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	job, err := a.training.StartJob(ctx, uid, pid, fs.Arg(2), *format)
	if err != nil {
		return err
	}
	log.Printf("[INFO] job %s finished with status %s", job.ID, job.Status)
	return nil
}
