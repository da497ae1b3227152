package receipt

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/zombor/return-pocket/internal/scanning"
)

var (
	// depositPerBottle is the refund earned for one returned container
	depositPerBottle  = decimal.RequireFromString("0.15")
	co2PerBottle      = decimal.RequireFromString("0.08")
	landfillPerBottle = decimal.RequireFromString("0.01")
	hundred           = decimal.NewFromInt(100)
)

const topStoreCount = 3

// StoreBottles is the number of bottles returned at one store
type StoreBottles struct {
	Name    string `json:"name"`
	Logo    string `json:"logo"`
	Bottles int64  `json:"bottles"`
}

// Achievement is a milestone unlocked by returning bottles
type Achievement struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Achieved    bool   `json:"achieved"`
}

// Stats summarizes the receipt history
type Stats struct {
	TotalReceipts int             `json:"total_receipts"`
	TotalPoints   int64           `json:"total_points"`
	TotalBottles  int64           `json:"total_bottles"`
	MoneySaved    decimal.Decimal `json:"money_saved"`
	CO2SavedKg    decimal.Decimal `json:"co2_saved_kg"`
	LandfillKg    decimal.Decimal `json:"landfill_kg"`
	TopStores     []StoreBottles  `json:"top_stores"`
	Achievements  []Achievement   `json:"achievements"`
}

// bottles converts points back to a bottle count at the standard deposit
func bottles(points int64) decimal.Decimal {
	return decimal.NewFromInt(points).Div(hundred).Div(depositPerBottle)
}

// Summarize computes history statistics. The overall bottle count rounds the exact
// total; per-store counts round each receipt.
func Summarize(receipts []*Receipt) Stats {
	s := Stats{
		TotalReceipts: len(receipts),
		MoneySaved:    decimal.Zero,
		TopStores:     make([]StoreBottles, 0, topStoreCount),
	}

	exact := decimal.Zero
	perStore := make(map[string]int64)
	locations := make(map[string]struct{})
	for _, r := range receipts {
		s.TotalPoints += r.Points
		s.MoneySaved = s.MoneySaved.Add(r.TotalAmount)
		b := bottles(r.Points)
		exact = exact.Add(b)
		perStore[string(r.StoreName.OrUnknown())] += b.Round(0).IntPart()
		locations[r.Location] = struct{}{}
	}
	s.TotalBottles = exact.Round(0).IntPart()

	total := decimal.NewFromInt(s.TotalBottles)
	s.CO2SavedKg = total.Mul(co2PerBottle).Round(2)
	s.LandfillKg = total.Mul(landfillPerBottle).Round(2)

	for name, count := range perStore {
		s.TopStores = append(s.TopStores, StoreBottles{Name: name, Bottles: count})
	}
	sort.Slice(s.TopStores, func(i, j int) bool {
		if s.TopStores[i].Bottles != s.TopStores[j].Bottles {
			return s.TopStores[i].Bottles > s.TopStores[j].Bottles
		}
		return s.TopStores[i].Name < s.TopStores[j].Name
	})
	if len(s.TopStores) > topStoreCount {
		s.TopStores = s.TopStores[:topStoreCount]
	}
	for i := range s.TopStores {
		s.TopStores[i].Logo = scanning.Retailer(s.TopStores[i].Name).Logo()
	}

	s.Achievements = []Achievement{
		{Name: "First Return", Description: "Return your first bottle", Achieved: len(receipts) > 0},
		// streak tracking is not recorded, so this one is never awarded
		{Name: "Dedicated Recycler", Description: "Return bottles 5 days in a row", Achieved: false},
		{Name: "Century Club", Description: "Return 100 bottles in total", Achieved: s.TotalBottles >= 100},
		{Name: "Eco Warrior", Description: "Return bottles from 10 different locations", Achieved: len(locations) >= 10},
	}
	return s
}
