// Copyright 2026 Andrew McRae
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aamcrae/solarhub/internal/adapter"
	_ "github.com/aamcrae/solarhub/internal/adapter/bmsactive"
	_ "github.com/aamcrae/solarhub/internal/adapter/bmsble"
	_ "github.com/aamcrae/solarhub/internal/adapter/bmspassive"
	_ "github.com/aamcrae/solarhub/internal/adapter/bmstcp"
	_ "github.com/aamcrae/solarhub/internal/adapter/failover"
	_ "github.com/aamcrae/solarhub/internal/adapter/meter"
	_ "github.com/aamcrae/solarhub/internal/adapter/senergy"
	"github.com/aamcrae/solarhub/internal/bus"
	"github.com/aamcrae/solarhub/internal/config"
	"github.com/aamcrae/solarhub/internal/discovery"
	"github.com/aamcrae/solarhub/internal/hierarchy"
	"github.com/aamcrae/solarhub/internal/model"
	"github.com/aamcrae/solarhub/internal/orchestrator"
	"github.com/aamcrae/solarhub/internal/queue"
	"github.com/aamcrae/solarhub/internal/recovery"
	"github.com/aamcrae/solarhub/internal/registry"
	"github.com/aamcrae/solarhub/internal/scheduler"
	"github.com/aamcrae/solarhub/internal/store"
)

// Exit codes (§6).
const (
	exitOK                = 0
	exitConfigInvalid     = 1
	exitHierarchyInvalid  = 2
	exitFatalOrchestrator = 3
)

var (
	configFile  = flag.String("config", "", "Config file")
	httpAddr    = flag.String("http", ":9110", "Address for /healthz and /metrics")
	profile     = flag.Bool("profile", false, "Enable pprof profiling")
	profilePort = flag.Int("profileport", 6060, "Port for profiling server")
	logDate     = flag.Bool("logtime", false, "Log date and time")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if !*logDate {
		log.SetFlags(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Printf("config error: %v", err)
		return exitConfigInvalid
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("invalid timezone %q: %v", cfg.Timezone, err)
		return exitConfigInvalid
	}

	doc, err := hierarchy.Load(cfg.Hierarchy.Path)
	if err != nil {
		log.Printf("hierarchy load error: %v", err)
		return exitHierarchyInvalid
	}
	if err := hierarchy.Validate(*doc); err != nil {
		log.Printf("hierarchy invalid: %v", err)
		return exitHierarchyInvalid
	}

	if *profile {
		go func() {
			log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%d", *profilePort), nil))
		}()
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Printf("store error: %v", err)
		return exitFatalOrchestrator
	}

	b, err := bus.New(bus.Options{
		Broker: cfg.Bus.Broker, ClientID: cfg.Bus.ClientID,
		Username: cfg.Bus.Username, Password: cfg.Bus.Password, Base: cfg.Bus.Base,
	})
	if err != nil {
		log.Printf("bus error: %v", err)
		return exitFatalOrchestrator
	}
	defer b.Close()

	reg := registry.New()
	if devices, err := st.GetAllDevices(); err == nil {
		reg = registry.Load(devices)
	}

	disc := discovery.New(reg, discovery.Options{
		PriorityOrder:       cfg.Discovery.PriorityOrder,
		InitialRetryMinutes: cfg.Discovery.InitialRetryMinutes,
	})
	if cfg.Discovery.Enabled && cfg.Discovery.ScanOnStartup {
		if err := disc.Run(context.Background()); err != nil {
			log.Printf("startup discovery: %v", err)
		}
	}

	recov := recovery.New(reg, disc, recovery.Options{
		InitialRetryMinutes: cfg.Discovery.InitialRetryMinutes,
		MaxRetryMinutes:     cfg.Discovery.MaxRetryMinutes,
		BackoffMultiplier:   cfg.Discovery.BackoffMultiplier,
		MaxFailures:         cfg.Discovery.MaxFailures,
	})

	devices, arrays, packs, lookup := assembleDevices(reg, cfg, loc, doc)

	q := queue.New(256, lookup, cfg.Polling.PollInterval())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	go recov.Run(ctx)

	orch := orchestrator.New(devices, arrays, packs, b, cfg.Bus.Base, st, q, orchestrator.Options{
		Timezone: loc, PollInterval: cfg.Polling.PollInterval(), Concurrent: cfg.Polling.Concurrent,
		SmartTickInterval: time.Duration(cfg.Polling.SmartTickIntervalS) * time.Second,
		SystemID:          doc.Systems[0].ID,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	httpSrv := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- orch.Run(ctx) }()

	select {
	case <-sig:
		log.Println("shutting down")
		cancel()
		_ = httpSrv.Shutdown(context.Background())
		return exitOK
	case err := <-errCh:
		if err != nil {
			log.Printf("orchestrator fatal: %v", err)
			return exitFatalOrchestrator
		}
		return exitOK
	}
}

// assembleDevices builds live adapters for every registered device and
// groups them into ArrayGroups from the validated hierarchy document,
// wiring in each array's SmartScheduler from the configured policy.
func assembleDevices(reg *registry.Registry, cfg *config.Config, loc *time.Location, doc *hierarchy.Document) (
	[]*orchestrator.Device, []*orchestrator.ArrayGroup, map[string][]*orchestrator.Device, queue.AdapterLookup) {

	devices := make([]*orchestrator.Device, 0)
	byID := make(map[string]*orchestrator.Device)
	packs := make(map[string][]*orchestrator.Device)

	// inverterArrayOf/packOfUnit map an inverter or battery device_id to
	// the InverterArray/BatteryPack that owns it per the hierarchy.
	inverterArrayOf := make(map[string]string)
	for _, ia := range doc.InverterArrays {
		for _, id := range ia.Inverters {
			inverterArrayOf[id] = ia.ID
		}
	}
	packOfUnit := make(map[string]string)
	for _, p := range doc.Packs {
		for _, id := range p.Batteries {
			packOfUnit[id] = p.ID
		}
	}
	packByID := make(map[string]model.BatteryPack, len(doc.Packs))
	for _, p := range doc.Packs {
		packByID[p.ID] = p
	}
	invArrayByID := make(map[string]model.InverterArray, len(doc.InverterArrays))
	for _, ia := range doc.InverterArrays {
		invArrayByID[ia.ID] = ia
	}
	inverterByID := make(map[string]model.Inverter, len(doc.Inverters))
	for _, inv := range doc.Inverters {
		inverterByID[inv.ID] = inv
	}

	for _, e := range reg.All() {
		a, err := adapter.New(e.DeviceType, e.AdapterConfig)
		if err != nil {
			log.Printf("skipping device %s: %v", e.DeviceID, err)
			continue
		}
		d := &orchestrator.Device{Entry: e, Adapter: a}
		if arrID, ok := inverterArrayOf[e.DeviceID]; ok {
			d.ArrayID = arrID
			d.RatedPowerW = inverterByID[e.DeviceID].RatedPowerW
		}
		if packID, ok := packOfUnit[e.DeviceID]; ok {
			d.PackID = packID
			if p, ok := packByID[packID]; ok && len(p.Batteries) > 0 {
				// Capacity weighting only needs relative shares, so an
				// even split of the pack's nominal energy rating across
				// its units is a fine stand-in for per-unit Ah ratings.
				d.CapacityAh = p.NominalKWh / float64(len(p.Batteries))
			}
		}
		devices = append(devices, d)
		byID[e.DeviceID] = d
		if d.PackID != "" {
			packs[d.PackID] = append(packs[d.PackID], d)
		}
	}

	// attachedPack maps an InverterArray id to the BatteryPack id feeding
	// it, resolved through the active Attachment linking the two arrays.
	battArrayByID := make(map[string]model.BatteryArray, len(doc.BatteryArrays))
	for _, ba := range doc.BatteryArrays {
		battArrayByID[ba.ID] = ba
	}
	attachedPack := make(map[string]string)
	for _, att := range doc.Attachments {
		if !att.Active() {
			continue
		}
		ba, ok := battArrayByID[att.BatteryArrayID]
		if !ok || len(ba.Packs) == 0 {
			continue
		}
		attachedPack[att.InverterArrayID] = ba.Packs[0]
	}

	var groups []*orchestrator.ArrayGroup
	for arrayID, policy := range cfg.Smart.Policies {
		if policy.SplitPolicy == "" {
			// The topology document may carry a per-array default split
			// policy set by whoever owns the hierarchy file; the
			// scheduler policy config takes precedence when both are set.
			policy.SplitPolicy = invArrayByID[arrayID].SplitPolicy
		}
		g := &orchestrator.ArrayGroup{
			ArrayID:     arrayID,
			SplitPolicy: policy.SplitPolicy,
			Scheduler:   scheduler.New(arrayID, policy, loc),
		}
		for _, d := range devices {
			if d.ArrayID == arrayID {
				g.Inverters = append(g.Inverters, d)
			}
		}
		if packID, ok := attachedPack[arrayID]; ok {
			g.AttachedPackID = packID
			if p, ok := packByID[packID]; ok {
				g.MaxChargeKW = p.MaxChargeKW
				g.MaxDischargeKW = p.MaxDischargeKW
			}
		}
		groups = append(groups, g)
	}

	lookup := func(inverterID string) (adapter.Adapter, bool) {
		d, ok := byID[inverterID]
		if !ok {
			return nil, false
		}
		return d.Adapter, true
	}
	return devices, groups, packs, lookup
}
