package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/config"
	"github.com/hackgods/clinic-booking-scheduler/internal/db"
	"github.com/hackgods/clinic-booking-scheduler/internal/logging"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
)

var specialties = []string{
	"Physiotherapy",
	"General Practice",
	"Dermatology",
	"Podiatry",
	"Osteopathy",
	"Psychology",
	"Dietetics",
	"Speech Therapy",
}

var timeZones = []string{"Europe/London", "Europe/Dublin", "Europe/Paris", "America/New_York", "Australia/Sydney"}

var slotLengths = []int{15, 20, 30, 45, 60}

func main() {
	count := flag.Int("practitioners", 50, "number of practitioners to create")
	legacyShare := flag.Float64("legacy", 0.3, "fraction stored in the legacy availability shape")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "seed")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())
	store := profile.NewPgStore(pool)
	today := civil.DateOf(time.Now())

	var canonical, legacy, overrides int
	for i := 0; i < *count; i++ {
		p := fakePractitioner()

		var id uuid.UUID
		if gofakeit.Float64Range(0, 1) < *legacyShare {
			shape, err := availability.ToLegacy(p.Weekly)
			if err != nil {
				logger.Fatal().Err(err).Msg("convert availability")
			}
			id, err = store.ImportLegacy(ctx, p, p.Specialty, shape)
			if err != nil {
				logger.Fatal().Err(err).Msg("import legacy practitioner")
			}
			legacy++
		} else {
			created, err := store.Create(ctx, p)
			if err != nil {
				logger.Fatal().Err(err).Msg("create practitioner")
			}
			id = created.ID
			canonical++
		}

		for _, o := range fakeOverrides(today) {
			if err := store.PutOverride(ctx, id, o); err != nil {
				logger.Fatal().Err(err).Str("practitioner_id", id.String()).Msg("put override")
			}
			overrides++
		}
	}

	logger.Info().
		Int("canonical", canonical).
		Int("legacy", legacy).
		Int("overrides", overrides).
		Msg("seed complete")
}

// fakePractitioner works a random set of weekdays. Uniform hours keep the
// template representable in the legacy shape; some days get their own hours.
func fakePractitioner() profile.Practitioner {
	startHour := gofakeit.Number(7, 10)
	endHour := gofakeit.Number(15, 19)

	weekly := availability.NewWeeklyAvailability()
	for _, d := range availability.Days[:5] {
		if gofakeit.Number(0, 9) < 2 {
			continue
		}
		win := availability.DayWindow{Enabled: true, Start: civil.Time{Hour: startHour}, End: civil.Time{Hour: endHour}}
		if gofakeit.Bool() && d == availability.Friday {
			win.End = civil.Time{Hour: 13}
		}
		weekly = weekly.With(d, win)
	}
	if gofakeit.Number(0, 9) == 0 {
		weekly = weekly.With(availability.Saturday, availability.DayWindow{
			Enabled: true, Start: civil.Time{Hour: 9}, End: civil.Time{Hour: 12},
		})
	}

	return profile.Practitioner{
		Name:        "Dr " + gofakeit.Name(),
		Specialty:   gofakeit.RandomString(specialties),
		TimeZone:    gofakeit.RandomString(timeZones),
		SlotMinutes: slotLengths[gofakeit.Number(0, len(slotLengths)-1)],
		LeadTime:    time.Duration(gofakeit.Number(0, 4)) * time.Hour,
		Weekly:      weekly,
	}
}

// fakeOverrides closes a day or opens a short evening clinic in the next
// few weeks.
func fakeOverrides(today civil.Date) []availability.Override {
	var out []availability.Override
	for n := gofakeit.Number(0, 3); n > 0; n-- {
		date := today.AddDays(gofakeit.Number(1, 28))
		if gofakeit.Bool() {
			out = append(out, availability.Override{Date: date})
			continue
		}
		out = append(out, availability.Override{
			Date:        date,
			Start:       civil.Time{Hour: 17},
			End:         civil.Time{Hour: 20},
			IsAvailable: true,
		})
	}
	return out
}
