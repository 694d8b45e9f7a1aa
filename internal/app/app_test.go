package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KidneyAllocation/internal/config"
	"KidneyAllocation/internal/logging"
	"KidneyAllocation/internal/usecase"
)

const roster = `<html><body>
<table id="patients">
  <tr><th>ID</th><th>Name</th><th>Blood Type</th><th>HLA</th><th>CPRA</th><th>Wait Days</th><th>Age</th>
      <th>Dialysis Days</th><th>Distance Miles</th><th>Clinician</th><th>Status</th></tr>
  <tr><td>P001</td><td>Alice Smith</td><td>O</td><td>A1 A2 B7 B8 DR1 DR2</td><td>85</td><td>1200</td><td>45</td>
      <td>900</td><td>50</td><td>dr.smith</td><td>Active</td></tr>
  <tr><td>P002</td><td>Bob Jones</td><td>A</td><td>A1 A3 B7 B44 DR4 DR7</td><td>20</td><td>400</td><td>58</td>
      <td>300</td><td>150</td><td>dr.jones</td><td>Active</td></tr>
</table>
<table id="donors">
  <tr><th>ID</th><th>Blood Type</th><th>HLA</th><th>Age</th><th>Height In</th><th>Weight Lb</th><th>Creatinine</th><th>Status</th></tr>
  <tr><td>D001</td><td>O</td><td>A1 A2 B7 B8 DR1 DR2</td><td>30</td><td>70</td><td>170</td><td>0.9</td><td>Available</td></tr>
  <tr><td>D002</td><td>A</td><td>A1 A3 B7 B44 DR4 DR7</td><td>42</td><td>66</td><td>150</td><td>1.1</td><td>Available</td></tr>
</table>
</body></html>`

func writeRoster(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.html")
	require.NoError(t, os.WriteFile(path, []byte(roster), 0o600))
	return path
}

func oneShotConfig(location string) config.Config {
	return config.Config{
		Logging: config.LoggingConfig{Level: "info"},
		Roster:  config.RosterConfig{Source: "html", Location: location},
		Ranking: config.RankingConfig{Parallelism: 2, TopMatches: 3},
	}
}

func TestRunOneShotRanksAndOffers(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	cfg := oneShotConfig(writeRoster(t))
	cfg.Offers.AutoOffer = true

	application, err := New(context.Background(), cfg, logging.NewWriter(&logs, "info"))
	require.NoError(t, err)
	defer application.Close()

	require.NoError(t, application.Run(context.Background()))

	dash := application.Allocation().Dashboard(time.Now())
	assert.Equal(t, 2, dash.ActivePatients)
	assert.Equal(t, 2, dash.AvailableDonors)
	assert.Equal(t, 2, dash.PendingOffers, "each donor is offered to a distinct patient")

	offers := application.Allocation().ActiveOffers(usecase.Viewer{Admin: true}, time.Now())
	require.Len(t, offers, 2)
	assert.NotEqual(t, offers[0].PatientID, offers[1].PatientID)

	out := logs.String()
	assert.Contains(t, out, "matches generated")
	assert.Contains(t, out, "offer sent")
	assert.Contains(t, out, "component=ranking")
}

func TestRunWithoutAutoOfferLeavesOffersEmpty(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	application, err := New(context.Background(), oneShotConfig(writeRoster(t)), logging.NewWriter(&logs, "info"))
	require.NoError(t, err)

	require.NoError(t, application.Run(context.Background()))
	assert.Zero(t, application.Allocation().Dashboard(time.Now()).PendingOffers)
	assert.Contains(t, logs.String(), "candidate")
}

func TestRunKeepsSweepingUntilCancelled(t *testing.T) {
	t.Parallel()

	cfg := oneShotConfig(writeRoster(t))
	cfg.Offers.SweepInterval = 10 * time.Millisecond

	var logs bytes.Buffer
	application, err := New(context.Background(), cfg, logging.NewWriter(&logs, "info"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestNewRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	cfg := oneShotConfig("roster.html")
	cfg.Roster.Source = "postgres"

	_, err := New(context.Background(), cfg, logging.NewWriter(&bytes.Buffer{}, "error"))
	assert.ErrorContains(t, err, `"postgres" is not registered`)
}

func TestRunFailsOnMissingRoster(t *testing.T) {
	t.Parallel()

	cfg := oneShotConfig(filepath.Join(t.TempDir(), "missing.html"))
	application, err := New(context.Background(), cfg, logging.NewWriter(&bytes.Buffer{}, "error"))
	require.NoError(t, err)

	assert.ErrorContains(t, application.Run(context.Background()), "load roster from html")
}
