package geo

import (
	"fmt"

	"github.com/hupe1980/geomesh/capability"
)

// Capabilities wraps every client operation as a capability. Register the
// returned slice into a capability set and declare the names on handler
// units; the descriptions are phrased for engine consumption.
func Capabilities(c *Client) []capability.Capability {
	return []capability.Capability{
		NewDistrictSearchCapability(c),
		NewAroundSearchCapability(c),
		NewPolygonSearchCapability(c),
		NewDetailSearchCapability(c),
		NewGeocodeCapability(c),
		NewRegeocodeCapability(c),
		NewWeatherCapability(c),
		NewDrivingRouteCapability(c),
		NewWalkingRouteCapability(c),
		NewTransitRouteCapability(c),
		NewDistanceCapability(c),
	}
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// NewDistrictSearchCapability searches places by keyword within a region.
func NewDistrictSearchCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"district_search",
		"Search for places by keyword within an administrative region. Keywords name concrete place categories (food, hotels, banks), never abstract concepts like routes or itineraries. Join multiple keywords with '|'.",
		objectSchema(map[string]any{
			"keywords": map[string]any{"type": "string", "description": "Search keywords, multiple joined with '|', at most 80 characters"},
			"region":   map[string]any{"type": "string", "description": "City name, pinyin, citycode or adcode, e.g. Beijing/beijing/010/110000"},
		}, "keywords"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.DistrictSearch(cc.Context(), DistrictSearchInput{
				Keywords: stringArg(args, "keywords"),
				Region:   stringArg(args, "region"),
			})
		},
	)
}

// NewAroundSearchCapability searches places around a coordinate.
func NewAroundSearchCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"around_search",
		"Search for places around a center coordinate, sorted by distance. Use after resolving a location to coordinates when nearby places are wanted.",
		objectSchema(map[string]any{
			"location": map[string]any{"type": "string", "description": "Center point as 'lon,lat', e.g. '116.473168,39.993015'"},
			"keywords": map[string]any{"type": "string", "description": "Optional search keywords, multiple joined with '|'"},
			"region":   map[string]any{"type": "string", "description": "Optional city restriction"},
			"radius":   map[string]any{"type": "integer", "description": "Search radius in meters (0-50000), default 3000"},
		}, "location"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.AroundSearch(cc.Context(), AroundSearchInput{
				Location: stringArg(args, "location"),
				Keywords: stringArg(args, "keywords"),
				Region:   stringArg(args, "region"),
				Radius:   intArg(args, "radius"),
			})
		},
	)
}

// NewPolygonSearchCapability searches places inside a polygon.
func NewPolygonSearchCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"polygon_search",
		"Search for places inside a polygon boundary given as 'lon1,lat1|lon2,lat2|...' with at least 3 vertices.",
		objectSchema(map[string]any{
			"polygon":  map[string]any{"type": "string", "description": "Polygon boundary vertices joined with '|'"},
			"keywords": map[string]any{"type": "string", "description": "Optional search keywords"},
			"region":   map[string]any{"type": "string", "description": "Optional city restriction"},
		}, "polygon"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.PolygonSearch(cc.Context(), PolygonSearchInput{
				Polygon:  stringArg(args, "polygon"),
				Keywords: stringArg(args, "keywords"),
				Region:   stringArg(args, "region"),
			})
		},
	)
}

// NewDetailSearchCapability fetches full details for one place.
func NewDetailSearchCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"id_search",
		"Fetch full details for a single place identified by its POI id.",
		objectSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "POI unique identifier"},
		}, "id"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.DetailSearch(cc.Context(), stringArg(args, "id"))
		},
	)
}

// NewGeocodeCapability converts addresses to coordinates.
func NewGeocodeCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"geocode",
		"Convert a structured address into coordinates. Use full place names, never abbreviations. Multiple addresses joined with '|' require batch=true (at most 10).",
		objectSchema(map[string]any{
			"address": map[string]any{"type": "string", "description": "Structured address, e.g. 'No.6 Futong East Street, Chaoyang, Beijing'"},
			"city":    map[string]any{"type": "string", "description": "Optional city scope"},
			"batch":   map[string]any{"type": "boolean", "description": "Resolve multiple '|'-joined addresses at once"},
		}, "address"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.Geocode(cc.Context(), GeocodeInput{
				Address: stringArg(args, "address"),
				City:    stringArg(args, "city"),
				Batch:   boolArg(args, "batch"),
			})
		},
	)
}

// NewRegeocodeCapability converts coordinates to addresses.
func NewRegeocodeCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"regeocode",
		"Convert coordinates into a structured address. Multiple coordinates joined with '|' (at most 20). Setting poitype also returns nearby places of that type.",
		objectSchema(map[string]any{
			"location": map[string]any{"type": "string", "description": "Coordinates as 'lon,lat'"},
			"poitype":  map[string]any{"type": "string", "description": "Optional POI type filter, multiple joined with '|'"},
		}, "location"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.Regeocode(cc.Context(), RegeocodeInput{
				Location: stringArg(args, "location"),
				POIType:  stringArg(args, "poitype"),
			})
		},
	)
}

// NewWeatherCapability queries weather by city adcode.
func NewWeatherCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"weather_query",
		"Query weather for a city by adcode. forecast=false returns current conditions, forecast=true returns the forecast.",
		objectSchema(map[string]any{
			"city":     map[string]any{"type": "string", "description": "City adcode, e.g. '110101'"},
			"forecast": map[string]any{"type": "boolean", "description": "Return the forecast instead of current conditions"},
		}, "city"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.Weather(cc.Context(), stringArg(args, "city"), boolArg(args, "forecast"))
		},
	)
}

func routeSchema() map[string]any {
	return objectSchema(map[string]any{
		"origin":         map[string]any{"type": "string", "description": "Start point as 'lon,lat', e.g. '116.397428,39.90923'"},
		"destination":    map[string]any{"type": "string", "description": "End point as 'lon,lat'"},
		"origin_id":      map[string]any{"type": "string", "description": "Optional origin POI id for better accuracy"},
		"destination_id": map[string]any{"type": "string", "description": "Optional destination POI id for better accuracy"},
	}, "origin", "destination")
}

func routeInput(args map[string]any) RouteInput {
	return RouteInput{
		Origin:         stringArg(args, "origin"),
		Destination:    stringArg(args, "destination"),
		OriginPOI:      stringArg(args, "origin_id"),
		DestinationPOI: stringArg(args, "destination_id"),
	}
}

// NewDrivingRouteCapability plans driving routes.
func NewDrivingRouteCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"driving_route",
		"Plan a driving route between two coordinates.",
		routeSchema(),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.DrivingRoute(cc.Context(), routeInput(args))
		},
	)
}

// NewWalkingRouteCapability plans walking routes.
func NewWalkingRouteCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"walking_route",
		"Plan a walking route between two coordinates.",
		routeSchema(),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.WalkingRoute(cc.Context(), routeInput(args))
		},
	)
}

// NewTransitRouteCapability plans public-transit routes.
func NewTransitRouteCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"transit_route",
		"Plan a public transit route between two coordinates.",
		routeSchema(),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			return c.TransitRoute(cc.Context(), routeInput(args))
		},
	)
}

// NewDistanceCapability computes straight-line distances.
func NewDistanceCapability(c *Client) capability.Capability {
	return capability.NewFunc(
		"calculate_distance",
		"Compute straight-line distances from up to 100 origin coordinates to one destination.",
		objectSchema(map[string]any{
			"origins": map[string]any{
				"type":        "array",
				"description": "Origin coordinates, each as 'lon,lat'",
				"items":       map[string]any{"type": "string"},
			},
			"destination": map[string]any{"type": "string", "description": "Destination as 'lon,lat'"},
		}, "origins", "destination"),
		func(cc *capability.CallContext, args map[string]any) (any, error) {
			raw, _ := args["origins"].([]any)
			origins := make([]string, 0, len(raw))
			for _, o := range raw {
				s, ok := o.(string)
				if !ok {
					return nil, fmt.Errorf("origins must be strings of the form 'lon,lat'")
				}
				origins = append(origins, s)
			}
			return c.Distance(cc.Context(), origins, stringArg(args, "destination"))
		},
	)
}
