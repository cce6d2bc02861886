package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshInterval = 2 * time.Second

// Styling
var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#0a84ff")).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#30d158")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#ff453a")).
			Padding(0, 1)
)

// Model defines the application state
type Model struct {
	mainMenu    list.Model
	recipeList  list.Model
	historyView table.Model
	spinner     spinner.Model
	client      *ApiClient
	status      *Status
	currentView string
	message     string
	error       string
}

// item represents a list item
type item struct {
	title, desc string
}

// FilterValue implements list.Item interface
func (i item) FilterValue() string { return i.title }

// Title implements list.Item interface
func (i item) Title() string { return i.title }

// Description implements list.Item interface
func (i item) Description() string { return i.desc }

// recipeItem represents a recipe in the list
type recipeItem struct {
	key, name, summary string
}

func (i recipeItem) Title() string       { return i.name }
func (i recipeItem) Description() string { return i.summary }
func (i recipeItem) FilterValue() string { return i.name }

// Initialize the model
func initialModel() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	items := []list.Item{
		item{title: "Machine Status", desc: "Watch the running recipe"},
		item{title: "Brew Recipe", desc: "Pick a recipe and start it"},
		item{title: "History", desc: "Recently finished recipes"},
		item{title: "Abort", desc: "Stop the running recipe"},
		item{title: "Exit", desc: "Exit the application"},
	}
	mainMenu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "Barista"

	recipeList := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	recipeList.Title = "Recipes"

	columns := []table.Column{
		{Title: "Finished", Width: 20},
		{Title: "Recipe", Width: 28},
		{Title: "Status", Width: 10},
		{Title: "Seconds", Width: 8},
		{Title: "Reason", Width: 40},
	}
	historyView := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)

	return Model{
		mainMenu:    mainMenu,
		recipeList:  recipeList,
		historyView: historyView,
		spinner:     s,
		client:      NewApiClient(),
		currentView: "main",
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tea.EnterAltScreen, fetchStatus(m.client), tick())
}

// Update handles UI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.mainMenu.SetSize(msg.Width-h, msg.Height-v)
		m.recipeList.SetSize(msg.Width-h, msg.Height-v-4)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "enter":
			switch m.currentView {
			case "main":
				selected, ok := m.mainMenu.SelectedItem().(item)
				if !ok {
					break
				}
				m.message, m.error = "", ""
				switch selected.title {
				case "Exit":
					return m, tea.Quit
				case "Machine Status":
					m.currentView = "status"
					return m, fetchStatus(m.client)
				case "Brew Recipe":
					m.currentView = "recipes"
					return m, fetchRecipes(m.client)
				case "History":
					m.currentView = "history"
					return m, fetchHistory(m.client)
				case "Abort":
					return m, abortRecipe(m.client)
				}
			case "recipes":
				if selected, ok := m.recipeList.SelectedItem().(recipeItem); ok {
					m.currentView = "status"
					return m, brewRecipe(m.client, selected.key, selected.name)
				}
			}
		case "a":
			if m.currentView == "status" {
				return m, abortRecipe(m.client)
			}
		case "esc":
			if m.currentView != "main" {
				m.currentView = "main"
			}
		}
	case tickMsg:
		return m, tea.Batch(fetchStatus(m.client), tick())
	case statusMsg:
		m.status = msg.status
		return m, nil
	case recipesMsg:
		m.recipeList.SetItems(msg.items)
		return m, nil
	case historyMsg:
		m.historyView.SetRows(msg.rows)
		return m, nil
	case errorMsg:
		m.error = msg.err
		return m, nil
	case confirmMsg:
		m.error = ""
		m.message = msg.message
		return m, fetchStatus(m.client)
	}

	var cmd tea.Cmd
	switch m.currentView {
	case "main":
		m.mainMenu, cmd = m.mainMenu.Update(msg)
	case "recipes":
		m.recipeList, cmd = m.recipeList.Update(msg)
	case "history":
		m.historyView, cmd = m.historyView.Update(msg)
	default:
		m.spinner, cmd = m.spinner.Update(msg)
	}
	return m, cmd
}

// View renders the UI
func (m Model) View() string {
	footer := ""
	if m.message != "" {
		footer += "\n" + successStyle.Render(m.message)
	}
	if m.error != "" {
		footer += "\n" + errorStyle.Render(m.error)
	}

	switch m.currentView {
	case "main":
		return docStyle.Render(m.mainMenu.View() + footer)
	case "status":
		help := "\nPress 'a' to abort, 'esc' to go back\n"
		return docStyle.Render(titleStyle.Render("Machine Status") + "\n\n" + statusView(m.status, m.spinner) + help + footer)
	case "recipes":
		help := "\nPress 'enter' to brew, 'esc' to go back\n"
		return docStyle.Render(m.recipeList.View() + help + footer)
	case "history":
		return docStyle.Render(titleStyle.Render("History") + "\n\n" + m.historyView.View() + "\nPress 'esc' to go back\n" + footer)
	default:
		return "Loading..."
	}
}

func statusView(status *Status, s spinner.Model) string {
	if status == nil {
		return s.View() + " connecting..."
	}
	out := infoStyle.Render("State: "+status.State) + "\n\n"
	p := status.Progress
	if p.RecipeName != "" {
		out += fmt.Sprintf("Recipe:  %s\n", p.RecipeName)
		out += fmt.Sprintf("Step:    %d/%d\n", p.StepIndex, p.TotalSteps)
	}
	if p.ActionLabel != "" {
		out += fmt.Sprintf("Action:  %s %s\n", s.View(), p.ActionLabel)
	}
	if p.LastError != "" {
		out += "\n" + errorStyle.Render(p.LastError) + "\n"
	}
	return out
}

// Custom message types for the tea.Model
type tickMsg time.Time

type statusMsg struct {
	status *Status
}

type recipesMsg struct {
	items []list.Item
}

type historyMsg struct {
	rows []table.Row
}

type errorMsg struct {
	err string
}

type confirmMsg struct {
	message string
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// fetchStatus retrieves the executor status from the API
func fetchStatus(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		status, err := client.GetStatus()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching status: %v", err)}
		}
		return statusMsg{status: status}
	}
}

// fetchRecipes retrieves recipes from the API
func fetchRecipes(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		recipes, err := client.GetRecipes()
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching recipes: %v", err)}
		}
		items := make([]list.Item, 0, len(recipes))
		for _, r := range recipes {
			items = append(items, recipeItem{key: r.Key, name: r.Name, summary: r.Summary})
		}
		return recipesMsg{items: items}
	}
}

// fetchHistory retrieves finished runs from the API
func fetchHistory(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		runs, err := client.GetExecutions(50)
		if err != nil {
			return errorMsg{err: fmt.Sprintf("Error fetching history: %v", err)}
		}
		rows := make([]table.Row, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, table.Row{
				r.EndTime.Local().Format("2006-01-02 15:04:05"),
				r.Recipe,
				r.Status,
				strconv.FormatFloat(r.Seconds, 'f', 0, 64),
				r.Reason,
			})
		}
		return historyMsg{rows: rows}
	}
}

// brewRecipe starts a recipe
func brewRecipe(client *ApiClient, key, name string) tea.Cmd {
	return func() tea.Msg {
		if err := client.Brew(key); err != nil {
			return errorMsg{err: fmt.Sprintf("Error starting %s: %v", name, err)}
		}
		return confirmMsg{message: fmt.Sprintf("Started %s", name)}
	}
}

// abortRecipe stops the running recipe
func abortRecipe(client *ApiClient) tea.Cmd {
	return func() tea.Msg {
		if err := client.Abort(); err != nil {
			return errorMsg{err: fmt.Sprintf("Error aborting: %v", err)}
		}
		return confirmMsg{message: "Recipe aborted"}
	}
}

func main() {
	if ok, err := NewApiClient().CheckHealth(); !ok {
		fmt.Printf("Warning: API server is not available: %v\n", err)
	}

	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
