// Package console is an interactive shell over a running forecast engine.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/lox/solarcast/internal/forecast"
	"github.com/lox/solarcast/internal/models"
)

// ErrQuit is returned by Execute for quit and exit.
var ErrQuit = errors.New("quit")

type StateSource interface {
	State() *forecast.State
}

type Controller interface {
	Arrays() []models.ArrayConfig
	SetSnowOverride(name string, o models.SnowOverride) error
	RequestRefresh()
}

type Console struct {
	state   StateSource
	control Controller
	loc     *time.Location
	now     func() time.Time
	out     io.Writer

	mu sync.Mutex
	rl *readline.Instance
}

func New(state StateSource, control Controller, loc *time.Location) *Console {
	if loc == nil {
		loc = time.UTC
	}
	return &Console{state: state, control: control, loc: loc, now: time.Now, out: os.Stdout}
}

// LogWriter writes log lines without corrupting the prompt.
func (c *Console) LogWriter() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		c.mu.Lock()
		rl := c.rl
		c.mu.Unlock()
		if rl != nil {
			rl.Clean()
			defer rl.Refresh()
		}
		return os.Stderr.Write(p)
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func historyFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "solarcast")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "console_history")
}

func (c *Console) completer() *readline.PrefixCompleter {
	var names []readline.PrefixCompleterInterface
	for _, arr := range c.control.Arrays() {
		names = append(names, readline.PcItem(arr.Name,
			readline.PcItem("covered"), readline.PcItem("clear"), readline.PcItem("auto")))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("arrays"),
		readline.PcItem("hours"),
		readline.PcItem("days"),
		readline.PcItem("snow", names...),
		readline.PcItem("refresh"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

// Run reads commands until EOF, quit, or ctx is done. Ctrl+C calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "solarcast> ",
		HistoryFile:  historyFilePath(),
		AutoComplete: c.completer(),
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	c.mu.Lock()
	c.rl = rl
	c.out = rl.Stdout()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.rl = nil
		c.mu.Unlock()
		_ = rl.Close()
	}()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	fmt.Fprintln(c.out, "type 'help' for commands")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel()
			return nil
		}
		if err != nil {
			return nil
		}
		if err := c.Execute(line); err != nil {
			if errors.Is(err, ErrQuit) {
				cancel()
				return nil
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	switch parts[0] {
	case "status":
		return c.status()
	case "arrays":
		return c.arrays()
	case "hours":
		n := 12
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v <= 0 {
				return fmt.Errorf("usage: hours [count]")
			}
			n = v
		}
		return c.hours(n)
	case "days":
		return c.days()
	case "snow":
		if len(parts) != 3 {
			return fmt.Errorf("usage: snow <array> covered|clear|auto")
		}
		o, err := models.ParseSnowOverride(parts[2])
		if err != nil {
			return err
		}
		if err := c.control.SetSnowOverride(parts[1], o); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: snow %s, refresh requested\n", parts[1], o)
		return nil
	case "refresh":
		c.control.RequestRefresh()
		fmt.Fprintln(c.out, "refresh requested")
		return nil
	case "help":
		fmt.Fprintln(c.out, "Commands:")
		fmt.Fprintln(c.out, "  status                          - Totals and diagnostics")
		fmt.Fprintln(c.out, "  arrays                          - Per-array forecast")
		fmt.Fprintln(c.out, "  hours [count]                   - Upcoming hourly totals (default 12)")
		fmt.Fprintln(c.out, "  days                            - Daily totals for the horizon")
		fmt.Fprintln(c.out, "  snow <array> covered|clear|auto - Set the snow override")
		fmt.Fprintln(c.out, "  refresh                         - Run a refresh now")
		fmt.Fprintln(c.out, "  quit                            - Exit")
		return nil
	case "quit", "exit":
		return ErrQuit
	}
	return fmt.Errorf("unknown command: %s (try 'help')", parts[0])
}

func (c *Console) current() (*forecast.State, error) {
	state := c.state.State()
	if state == nil || state.Total == nil {
		return nil, errors.New("no forecast yet")
	}
	return state, nil
}

func kwh(wh float64) string {
	return fmt.Sprintf("%.2f kWh", wh/1000)
}

func (c *Console) status() error {
	state, err := c.current()
	if err != nil {
		return err
	}
	t := state.Total
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "updated\t%s\n", state.UpdatedAt.In(c.loc).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "today\t%s\n", kwh(t.EnergyToday))
	fmt.Fprintf(w, "remaining\t%s\n", kwh(t.EnergyTodayRemaining))
	fmt.Fprintf(w, "tomorrow\t%s\n", kwh(t.EnergyTomorrow))
	fmt.Fprintf(w, "power now\t%.0f W\n", t.PowerNow)
	fmt.Fprintf(w, "this hour / next\t%.0f / %.0f Wh\n", t.EnergyCurrentHour, t.EnergyNextHour)
	if t.PeakTimeToday != nil {
		fmt.Fprintf(w, "peak today\t%.0f W at %s\n", t.PeakPowerToday, t.PeakTimeToday.In(c.loc).Format("15:04"))
	}
	fmt.Fprintf(w, "weather available\t%t\n", state.WeatherAvailable)
	if state.CloudCoverageUsed != nil {
		fmt.Fprintf(w, "cloud coverage\t%.0f%%\n", *state.CloudCoverageUsed)
	}
	fmt.Fprintf(w, "clear sky\t%.0f W now, %.2f kWh today\n", state.ClearSkyPowerNow, state.ClearSkyEnergyToday)
	return w.Flush()
}

func (c *Console) arrays() error {
	state, err := c.current()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ARRAY\tTODAY\tTOMORROW\tNOW\tSNOW\tOVERRIDE")
	for _, arr := range c.control.Arrays() {
		f, ok := state.Arrays[arr.Name]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\t-\t%s\n", arr.Name, state.Override(arr.Name))
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f W\t%t\t%s\n", arr.Name, kwh(f.EnergyToday), kwh(f.EnergyTomorrow), f.PowerNow, f.SnowCovered, state.Override(arr.Name))
	}
	return w.Flush()
}

func (c *Console) hours(n int) error {
	state, err := c.current()
	if err != nil {
		return err
	}
	nowHour := c.now().In(c.loc).Truncate(time.Hour)

	type hour struct {
		t  time.Time
		wh float64
	}
	var upcoming []hour
	for key, wh := range state.Total.WhHours {
		t, err := forecast.ParseHourKey(key)
		if err != nil || t.Before(nowHour) {
			continue
		}
		upcoming = append(upcoming, hour{t, wh})
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].t.Before(upcoming[j].t) })
	if len(upcoming) > n {
		upcoming = upcoming[:n]
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, h := range upcoming {
		fmt.Fprintf(w, "%s\t%.1f Wh\n", h.t.In(c.loc).Format("Mon 15:04"), h.wh)
	}
	return w.Flush()
}

func (c *Console) days() error {
	state, err := c.current()
	if err != nil {
		return err
	}
	today := c.now().In(c.loc)
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for i, wh := range state.Total.EnergyDays {
		fmt.Fprintf(w, "%s\t%s\n", today.AddDate(0, 0, i).Format("Mon 2 Jan"), kwh(wh))
	}
	return w.Flush()
}
