package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"framelabel/internal/database/repository"
	"framelabel/internal/service"
)

// App is a read-only browser over workspaces, projects and videos with
// annotation progress. Annotation itself happens through the API; the
// browser answers "where am I up to" from a terminal.
type App struct {
	ctx      context.Context
	services Services

	state   viewState
	status  string
	cursor  int
	width   int
	height  int

	users    []repository.User
	projects []repository.Project
	videos   []videoRow

	user    *repository.User
	project *repository.Project
}

// Services the browser reads from.
type Services struct {
	Workspace   *service.WorkspaceService
	Library     *service.LibraryService
	Annotations *service.AnnotationService
}

type viewState string

const (
	viewWorkspaces viewState = "workspaces"
	viewProjects   viewState = "projects"
	viewVideos     viewState = "videos"
)

type videoRow struct {
	name  string
	stats service.Stats
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
)

// New builds the browser with the workspace list preloaded.
func New(ctx context.Context, services Services) *App {
	a := &App{ctx: ctx, services: services, state: viewWorkspaces}
	if err := a.loadUsers(); err != nil {
		a.status = err.Error()
	}
	return a
}

func (a *App) Init() tea.Cmd { return nil }

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
			}
		case "down", "j":
			if a.cursor < a.listLen()-1 {
				a.cursor++
			}
		case "enter", "l":
			a.descend()
		case "esc", "h":
			a.ascend()
		case "r":
			a.reload()
		}
	}
	return a, nil
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("framelabel") + "  " + dimStyle.Render(a.breadcrumb()) + "\n\n")

	switch a.state {
	case viewWorkspaces:
		if len(a.users) == 0 {
			b.WriteString(dimStyle.Render("  no workspaces yet") + "\n")
		}
		for i, u := range a.users {
			b.WriteString(a.line(i, u.Email) + "\n")
		}
	case viewProjects:
		if len(a.projects) == 0 {
			b.WriteString(dimStyle.Render("  no projects yet") + "\n")
		}
		for i, p := range a.projects {
			b.WriteString(a.line(i, p.Name) + "\n")
		}
	case viewVideos:
		if len(a.videos) == 0 {
			b.WriteString(dimStyle.Render("  no videos in project yet") + "\n")
		}
		for i, v := range a.videos {
			label := fmt.Sprintf("%s  %d frames annotated, %d boxes",
				v.name, v.stats.AnnotatedFrames, v.stats.TotalBoxes)
			b.WriteString(a.line(i, label) + "\n")
		}
	}

	b.WriteString("\n" + statusStyle.Render(a.footer()))
	return b.String()
}

func (a *App) line(i int, text string) string {
	if i == a.cursor {
		return selectedStyle.Render("> " + text)
	}
	return "  " + text
}

func (a *App) breadcrumb() string {
	parts := []string{"workspaces"}
	if a.user != nil {
		parts = append(parts, a.user.Email)
	}
	if a.project != nil {
		parts = append(parts, a.project.Name)
	}
	return strings.Join(parts, " / ")
}

func (a *App) footer() string {
	help := "enter open · esc back · r reload · q quit"
	if a.status != "" {
		return a.status + "  " + help
	}
	return help
}

func (a *App) listLen() int {
	switch a.state {
	case viewWorkspaces:
		return len(a.users)
	case viewProjects:
		return len(a.projects)
	default:
		return len(a.videos)
	}
}

func (a *App) descend() {
	switch a.state {
	case viewWorkspaces:
		if a.cursor >= len(a.users) {
			return
		}
		u := a.users[a.cursor]
		a.user = &u
		a.state = viewProjects
		a.cursor = 0
		if err := a.loadProjects(); err != nil {
			a.status = err.Error()
		}
	case viewProjects:
		if a.cursor >= len(a.projects) {
			return
		}
		p := a.projects[a.cursor]
		a.project = &p
		a.state = viewVideos
		a.cursor = 0
		if err := a.loadVideos(); err != nil {
			a.status = err.Error()
		}
	}
}

func (a *App) ascend() {
	switch a.state {
	case viewVideos:
		a.project = nil
		a.state = viewProjects
		a.cursor = 0
	case viewProjects:
		a.user = nil
		a.state = viewWorkspaces
		a.cursor = 0
	}
}

func (a *App) reload() {
	var err error
	switch a.state {
	case viewWorkspaces:
		err = a.loadUsers()
	case viewProjects:
		err = a.loadProjects()
	case viewVideos:
		err = a.loadVideos()
	}
	if err != nil {
		a.status = err.Error()
	} else {
		a.status = ""
	}
}

func (a *App) loadUsers() error {
	users, err := a.services.Workspace.ListWorkspaces(a.ctx)
	if err != nil {
		return err
	}
	a.users = users
	return nil
}

func (a *App) loadProjects() error {
	projects, err := a.services.Workspace.ListProjects(a.ctx, a.user.ID)
	if err != nil {
		return err
	}
	a.projects = projects
	return nil
}

func (a *App) loadVideos() error {
	names, err := a.services.Library.ListVideos(a.ctx, a.user.ID, a.project.ID)
	if err != nil {
		return err
	}
	rows := make([]videoRow, 0, len(names))
	for _, name := range names {
		stats, err := a.services.Annotations.Stats(a.ctx, a.project.ID, name, 0)
		if err != nil {
			return err
		}
		rows = append(rows, videoRow{name: name, stats: stats})
	}
	a.videos = rows
	return nil
}
