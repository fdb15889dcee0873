// Synthetic transaction data generator for exercising the detection rules.
//
// Usage:
//
//	go run cmd/datagen/main.go -out data/synthetic -rows 30 -seed 42
//
// The generated dataset contains a baseline of unremarkable transactions
// plus one scenario per built-in rule: a high-value payment, a sanctions
// keyword match, a rapid-velocity burst, a structuring sequence below the
// reporting threshold, a high-risk jurisdiction payment, a geographic
// spread, and a counterparty ring across three accounts.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type row struct {
	CustomerName string  `json:"customer_name"`
	Country      string  `json:"country"`
	IbanOrAcct   string  `json:"iban_or_acct"`
	TS           string  `json:"ts"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Merchant     string  `json:"merchant"`
	Counterparty string  `json:"counterparty"`
	CountryTxn   string  `json:"country_txn"`
	Channel      string  `json:"channel"`
	Direction    string  `json:"direction"`
	BaseRisk     float64 `json:"base_risk"`
}

type customer struct {
	name    string
	country string
	account string
}

var customers = []customer{
	{"Alice Corp", "USA", "US123456789"},
	{"Bob Ltd", "GBR", "GB98MIDL12345678901234"},
	{"Carol Inc", "FRA", "FR7630006000011234567890189"},
	{"Dave LLC", "DEU", "DE89370400440532013000"},
	{"Eve SARL", "IR", "IR123456789"}, // high-risk country
}

var benignNames = []string{"Acme", "Global", "Trade", "Pay"}

func main() {
	outDir := flag.String("out", "data/synthetic", "Output directory")
	baseline := flag.Int("rows", 30, "Number of baseline transactions")
	seed := flag.Int64("seed", 42, "Random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	baseTS := time.Now().UTC().Add(-7 * 24 * time.Hour)

	var rows []row

	// Baseline traffic spread across all customers.
	for i := 0; i < *baseline; i++ {
		c := customers[i%len(customers)]
		rows = append(rows, row{
			CustomerName: c.name,
			Country:      c.country,
			IbanOrAcct:   c.account,
			TS:           baseTS.Add(time.Duration(i) * 2 * time.Hour).Format("2006-01-02T15:04:05"),
			Amount:       100 + rng.Float64()*1900,
			Currency:     "USD",
			Merchant:     benignNames[rng.Intn(len(benignNames))] + " Inc",
			Counterparty: benignNames[rng.Intn(len(benignNames))] + " Ltd",
			CountryTxn:   c.country,
			Channel:      "wire",
			Direction:    "out",
			BaseRisk:     10,
		})
	}

	// High-value payment.
	rows = append(rows, scenario(customers[0], baseTS.Add(24*time.Hour), 50000, "Big Payee"))

	// Sanctions keyword.
	rows = append(rows, scenario(customers[1], baseTS.Add(48*time.Hour), 1000, "sanctioned entity"))

	// Rapid velocity: six transactions in ten minutes.
	t0 := baseTS.Add(72 * time.Hour)
	for j := 0; j < 6; j++ {
		r := scenario(customers[2], t0.Add(time.Duration(j)*2*time.Minute), 500, "Retail")
		r.Currency = "EUR"
		r.Channel = "card"
		rows = append(rows, r)
	}

	// Structuring: four payments just below the reporting threshold.
	t1 := baseTS.Add(96 * time.Hour)
	for j := 0; j < 4; j++ {
		rows = append(rows, scenario(customers[3], t1.Add(time.Duration(j)*5*time.Minute), 9200, "Split Pay"))
	}

	// High-risk jurisdiction.
	rows = append(rows, scenario(customers[4], baseTS.Add(120*time.Hour), 3000, "Local Vendor"))

	// Geographic spread: one customer transacting across four countries
	// within an hour.
	t2 := baseTS.Add(144 * time.Hour)
	for j, country := range []string{"USA", "BRA", "NGA", "PHL"} {
		r := scenario(customers[0], t2.Add(time.Duration(j)*10*time.Minute), 700, "Roaming Pay")
		r.CountryTxn = country
		rows = append(rows, r)
	}

	// Counterparty ring: three accounts sharing the same two vendors.
	t3 := baseTS.Add(160 * time.Hour)
	for j, c := range customers[:3] {
		for k, vendor := range []string{"shared vendor a", "shared vendor b"} {
			r := scenario(c, t3.Add(time.Duration(j*2+k)*time.Hour), 1200, vendor)
			rows = append(rows, r)
		}
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	csvPath := filepath.Join(*outDir, "transactions.csv")
	jsonlPath := filepath.Join(*outDir, "transactions.jsonl")

	if err := writeCSV(csvPath, rows); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := writeJSONL(jsonlPath, rows); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d rows to %s and %s\n", len(rows), csvPath, jsonlPath)
}

func scenario(c customer, ts time.Time, amount float64, counterparty string) row {
	return row{
		CustomerName: c.name,
		Country:      c.country,
		IbanOrAcct:   c.account,
		TS:           ts.Format("2006-01-02T15:04:05"),
		Amount:       amount,
		Currency:     "USD",
		Merchant:     counterparty,
		Counterparty: counterparty,
		CountryTxn:   c.country,
		Channel:      "wire",
		Direction:    "out",
		BaseRisk:     10,
	}
}

func writeCSV(path string, rows []row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"customer_name", "country", "iban_or_acct", "ts", "amount", "currency",
		"merchant", "counterparty", "country_txn", "channel", "direction", "base_risk",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.CustomerName, r.Country, r.IbanOrAcct, r.TS,
			strconv.FormatFloat(r.Amount, 'f', 2, 64), r.Currency,
			r.Merchant, r.Counterparty, r.CountryTxn, r.Channel, r.Direction,
			strconv.FormatFloat(r.BaseRisk, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONL(path string, rows []row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
