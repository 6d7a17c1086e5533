// Package domain models the synthetic grid data for the districts of Dakar
// and the outage-risk vocabulary shared by training and serving.
//
// # Districts
//
// Each district carries a static risk profile: a base outage rate, a severity
// multiplier, a mean load in megawatts, and a temperature bias. Serving adds a
// risk-adjustment factor and map coordinates. Profiles are built once into an
// immutable [DistrictTable] and passed explicitly to whoever needs them.
//
// # Record Generation
//
// One record is produced per (district, hour). The weather sub-model uses a
// three-band season derived from the month:
//
//	Nov–Feb  cool-dry (0)   base temperature 24 °C
//	Mar–May  hot-dry  (1)   base temperature 30 °C
//	Jun–Oct  rainy    (2)   base temperature 27 °C
//
// Peak hours are 07:00–09:59 and 18:00–21:59. Night is 22:00–05:59.
//
// Features are derived in a fixed order, each consuming one draw from the
// noise stream:
//
//	temperature = base + 5·sin((hour−6)·π/12) + bias + N(0,2)      → [18, 42]
//	humidity    = 100 − (temperature−20)·1.5 ± season + N(0,8)     → [30, 95]
//	wind        = 20|12 (+5 peak) + N(0,5)                         → [0, 50]
//	load        = mean · hourFactor · heatFactor + N(0,50)         → [200, 1500]
//
// The outage probability adds temperature excess above 30 °C, load excess
// above 900 MW, a peak-hour premium and a hot-dry premium to the district base
// rate. The label is a Bernoulli draw against that probability, taken from the
// same stream, so a fixed seed reproduces a table exactly.
//
// # Time Features
//
// Serving derives a separate time-feature bundle from a wall-clock time with
// a four-band calendar season (Dec–Feb 1, Mar–May 2, Jun–Aug 3, Sep–Nov 4)
// and an evening-only peak flag (18:00–22:59). These codes intentionally
// differ from the generator's and must not be unified: the trained models
// consume whatever encoding the caller supplies.
package domain
