// Package testfixtures writes event files the way the upstream producer does: a header row, deterministic event
// ids, empty prices for views, and an atomic rename from a hidden temporary file.
package testfixtures

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

// Row is one line of an event file. Fields are written verbatim so that tests can produce invalid input.
type Row struct {
	EventId         string
	UserId          string
	ProductId       string
	ProductName     string
	ProductCategory string
	EventType       string
	Price           string
	EventTimestamp  string
}

func (r Row) record() []string {
	return []string{r.EventId, r.UserId, r.ProductId, r.ProductName, r.ProductCategory, r.EventType, r.Price, r.EventTimestamp}
}

var categories = map[string][]string{
	"Electronics": {"Wireless Mouse", "USB-C Hub", "Mechanical Keyboard", "Noise Cancelling Headphones"},
	"Home":        {"Desk Lamp", "Coffee Grinder", "Oak Shelf"},
	"Sports":      {"Yoga Mat", "Running Shoes", "Water Bottle"},
}

var categoryNames = []string{"Electronics", "Home", "Sports"}

// Generator produces random but valid events. The same seed yields the same events.
type Generator struct {
	rng                 *rand.Rand
	users               int
	products            int
	purchaseProbability float64
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:                 rand.New(rand.NewSource(seed)),
		users:               1000,
		products:            100,
		purchaseProbability: 0.2,
	}
}

// Event returns a valid row with a timestamp up to a minute before now.
func (g *Generator) Event(now time.Time) Row {
	user := fmt.Sprintf("user_%04d", g.rng.Intn(g.users)+1)
	productNum := g.rng.Intn(g.products) + 1
	product := fmt.Sprintf("prod_%04d", productNum)
	category := categoryNames[productNum%len(categoryNames)]
	names := categories[category]
	ts := now.UTC().Add(-time.Duration(g.rng.Intn(61)) * time.Second).Truncate(time.Second)

	row := Row{
		EventId:         model.EventID(user, product, ts).String(),
		UserId:          user,
		ProductId:       product,
		ProductName:     names[productNum%len(names)],
		ProductCategory: category,
		EventType:       string(model.EventTypeView),
		EventTimestamp:  ts.Format(model.TimestampLayout),
	}
	if g.rng.Float64() < g.purchaseProbability {
		row.EventType = string(model.EventTypePurchase)
		price := 9.99 + g.rng.Float64()*290
		row.Price = strconv.FormatFloat(math.Round(price*100)/100, 'f', 2, 64)
	}
	return row
}

// Events returns n valid rows.
func (g *Generator) Events(n int, now time.Time) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = g.Event(now)
	}
	return rows
}

// FileName is the producer's naming scheme: events_<yyyymmdd_hhmmss>_<batch>.csv.
func FileName(now time.Time, batchNum int) string {
	return fmt.Sprintf("events_%s_%06d.csv", now.UTC().Format("20060102_150405"), batchNum)
}

// WriteFile writes rows with a header to dir/name. The content is first written to a hidden temporary file which
// is then renamed into place, so readers never observe a partial file.
func WriteFile(dir string, name string, rows []Row) (string, error) {
	tmpPath := filepath.Join(dir, ".tmp_"+name)
	path := filepath.Join(dir, name)

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", errors.WithStack(err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(model.Columns); err != nil {
		_ = f.Close()
		return "", errors.WithStack(err)
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			_ = f.Close()
			return "", errors.WithStack(err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return "", errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return "", errors.WithStack(err)
	}
	return path, errors.WithStack(os.Rename(tmpPath, path))
}
