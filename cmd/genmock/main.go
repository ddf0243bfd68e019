// Command genmock writes a synthetic region-tagged NetCDF dataset for tests
// and demos. Every quantity is tagged for every region on a time/lat/lon grid,
// except the region tags listed in -drop, so require_all behaviour can be
// exercised.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/cam.h0.climo.nc \
//	  -regions EURO,NASA,INDA,SASA,WNAM,ENAM \
//	  -drop QFLX:SASA
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"strings"

	"github.com/couchcryptid/watertag-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/watertag-etl/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// quantity is one tagged CAM field.
type quantity struct {
	prefix   string
	tail     string
	units    string
	longName string
	scale    float64
}

var quantities = []quantity{
	{prefix: "PRECRC_", tail: "r", units: "m/s", longName: "Convective rain rate", scale: 1e-8},
	{prefix: "PRECRL_", tail: "r", units: "m/s", longName: "Large-scale rain rate", scale: 2e-8},
	{prefix: "QFLX_", tail: "_18O", units: "kg/m2/s", longName: "Surface water flux", scale: 1e-5},
	{prefix: "TMQ_", tail: "18O", units: "kg/m2", longName: "Total precipitable H218O", scale: 10},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output NetCDF path")
	regionList := flag.String("regions", "EURO,NASA,INDA,SASA,WNAM,ENAM,WNAT,ENAT,WNPA,ENPA", "comma-separated region codes")
	drop := flag.String("drop", "", "comma-separated PREFIX:REGION tags to leave out, e.g. QFLX:SASA")
	ntime := flag.Int("ntime", 12, "number of time steps")
	nlat := flag.Int("nlat", 8, "number of latitudes")
	nlon := flag.Int("nlon", 16, "number of longitudes")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	regions := strings.Split(*regionList, ",")
	dropped := make(map[string]bool)
	for _, d := range strings.Split(*drop, ",") {
		if d != "" {
			dropped[d] = true
		}
	}

	ds, err := generate(regions, dropped, *ntime, *nlat, *nlon)
	if err != nil {
		return err
	}

	store := netcdf.NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.Save(context.Background(), *out, ds); err != nil {
		return err
	}
	log.Printf("wrote %s: %d variables, dims %v", *out, len(ds.Vars()), ds.Dims())
	return nil
}

func generate(regions []string, dropped map[string]bool, ntime, nlat, nlon int) (*domain.Dataset, error) {
	ds := domain.NewDataset()
	ds.Attrs["title"] = "synthetic water-tagged climatology"
	ds.Attrs["source"] = "genmock"
	ds.Attrs["Conventions"] = "CF-1.0"

	timeAxis := floats.Span(make([]float64, ntime), 15, 15+30*float64(ntime-1))
	lat := floats.Span(make([]float64, nlat), -87.5, 87.5)
	lon := floats.Span(make([]float64, nlon), 0, 360-360/float64(nlon))
	ds.SetCoord(&domain.Coord{Name: "time", Values: timeAxis, Attrs: domain.Attrs{"units": "days since 0001-01-01 00:00:00", "calendar": "noleap"}})
	ds.SetCoord(&domain.Coord{Name: "lat", Values: lat, Attrs: domain.Attrs{"units": "degrees_north"}})
	ds.SetCoord(&domain.Coord{Name: "lon", Values: lon, Attrs: domain.Attrs{"units": "degrees_east"}})

	dims := []string{"time", "lat", "lon"}
	shape := []int{ntime, nlat, nlon}
	n := ntime * nlat * nlon

	for qi, q := range quantities {
		for ri, r := range regions {
			if dropped[strings.TrimSuffix(q.prefix, "_")+":"+r] {
				continue
			}
			vals := make([]float64, n)
			for i := range vals {
				t, rest := i/(nlat*nlon), i%(nlat*nlon)
				y, x := rest/nlon, rest%nlon
				phase := float64(ri+1) * (1 + 0.1*float64(qi))
				vals[i] = 1 + 0.5*math.Sin(phase+2*math.Pi*float64(t)/float64(ntime))*math.Cos(lat[y]*math.Pi/180) +
					0.25*math.Cos(lon[x]*math.Pi/180*float64(ri%3+1))
			}
			floats.Scale(q.scale, vals)
			v, err := domain.NewVariable(q.prefix+r+q.tail, dims, shape, vals)
			if err != nil {
				return nil, err
			}
			v.Attrs = domain.Attrs{
				"units":        q.units,
				"long_name":    fmt.Sprintf("%s from %s", q.longName, r),
				"cell_methods": "time: mean",
			}
			v.Encoding = domain.Encoding{"_FillValue": float32(1e36)}
			ds.SetVar(v)
		}
	}

	ts, err := domain.NewVariable("TS", dims, shape, floats.Span(make([]float64, n), 230, 310))
	if err != nil {
		return nil, err
	}
	ts.Attrs = domain.Attrs{"units": "K", "long_name": "Surface temperature"}
	ds.SetVar(ts)

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
