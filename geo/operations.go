package geo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const showFields = "base,business,children,indoor,navi,photos"

// DistrictSearchInput parameterizes a keyword search within a region.
type DistrictSearchInput struct {
	// Keywords are the search terms, multiple terms joined with "|".
	Keywords string
	// Region optionally restricts the search: city name, pinyin, citycode or adcode.
	Region string
	// PageSize bounds results per page (1-25); defaults to 10.
	PageSize int
}

// DistrictSearch performs a keyword place search scoped to a region.
func (c *Client) DistrictSearch(ctx context.Context, in DistrictSearchInput) (map[string]any, error) {
	if in.Keywords == "" {
		return nil, fmt.Errorf("keywords must not be empty")
	}

	pageSize := in.PageSize
	if pageSize < 1 || pageSize > 25 {
		pageSize = 10
	}

	params := url.Values{}
	params.Set("keywords", in.Keywords)
	params.Set("page_size", strconv.Itoa(pageSize))
	params.Set("page_num", "1")
	params.Set("city_limit", "true")
	params.Set("show_fields", showFields)
	if in.Region != "" {
		params.Set("region", in.Region)
	}

	return c.get(ctx, "/v5/place/text", params)
}

// AroundSearchInput parameterizes a proximity search around a coordinate.
type AroundSearchInput struct {
	// Location is the center point "lon,lat"; at most 6 decimal places.
	Location string
	// Keywords optionally filter the results.
	Keywords string
	// Region optionally restricts the search.
	Region string
	// Radius is the search radius in meters (0-50000); defaults to 3000.
	Radius int
}

// AroundSearch finds places around a center coordinate, nearest first.
func (c *Client) AroundSearch(ctx context.Context, in AroundSearchInput) (map[string]any, error) {
	if in.Location == "" {
		return nil, fmt.Errorf("location must not be empty")
	}

	radius := in.Radius
	if radius <= 0 {
		radius = 3000
	}
	if radius > 50000 {
		radius = 50000
	}

	params := url.Values{}
	params.Set("location", in.Location)
	params.Set("radius", strconv.Itoa(radius))
	params.Set("sortrule", "distance")
	params.Set("page_size", "10")
	params.Set("page_num", "1")
	params.Set("city_limit", "true")
	params.Set("show_fields", showFields)
	if in.Keywords != "" {
		params.Set("keywords", in.Keywords)
	}
	if in.Region != "" {
		params.Set("region", in.Region)
	}

	return c.get(ctx, "/v5/place/around", params)
}

// PolygonSearchInput parameterizes a search bounded by a polygon.
type PolygonSearchInput struct {
	// Polygon is "lon1,lat1|lon2,lat2|...", at least 3 vertices.
	Polygon string
	// Keywords optionally filter the results.
	Keywords string
	// Region optionally restricts the search.
	Region string
}

// PolygonSearch finds places inside a polygon boundary.
func (c *Client) PolygonSearch(ctx context.Context, in PolygonSearchInput) (map[string]any, error) {
	if in.Polygon == "" {
		return nil, fmt.Errorf("polygon must not be empty")
	}

	params := url.Values{}
	params.Set("polygon", in.Polygon)
	params.Set("page_size", "10")
	params.Set("page_num", "1")
	params.Set("city_limit", "true")
	params.Set("show_fields", showFields)
	if in.Keywords != "" {
		params.Set("keywords", in.Keywords)
	}
	if in.Region != "" {
		params.Set("region", in.Region)
	}

	return c.get(ctx, "/v5/place/polygon", params)
}

// DetailSearch fetches full details for a single place by its POI id.
func (c *Client) DetailSearch(ctx context.Context, poiID string) (map[string]any, error) {
	poiID = strings.TrimSpace(poiID)
	if poiID == "" {
		return nil, fmt.Errorf("poi id must not be empty")
	}

	params := url.Values{}
	params.Set("id", poiID)
	params.Set("show_fields", showFields)

	return c.get(ctx, "/v5/place/detail", params)
}

// GeocodeInput parameterizes structured-address geocoding.
type GeocodeInput struct {
	// Address is the structured address; multiple addresses joined with "|"
	// require Batch=true (at most 10).
	Address string
	// City optionally scopes the lookup.
	City string
	// Batch enables multi-address resolution.
	Batch bool
}

// Geocode converts a structured address into coordinates.
func (c *Client) Geocode(ctx context.Context, in GeocodeInput) (map[string]any, error) {
	if in.Address == "" {
		return nil, fmt.Errorf("address must not be empty")
	}

	params := url.Values{}
	params.Set("address", in.Address)
	params.Set("batch", strconv.FormatBool(in.Batch))
	if in.City != "" {
		params.Set("city", in.City)
	}

	return c.get(ctx, "/v3/geocode/geo", params)
}

// RegeocodeInput parameterizes reverse geocoding.
type RegeocodeInput struct {
	// Location is "lon,lat"; multiple coordinates joined with "|" (at most 20).
	Location string
	// POIType optionally filters nearby POIs; setting it switches the
	// response to the extended form.
	POIType string
}

// Regeocode converts coordinates into a structured address.
func (c *Client) Regeocode(ctx context.Context, in RegeocodeInput) (map[string]any, error) {
	if in.Location == "" {
		return nil, fmt.Errorf("location must not be empty")
	}

	extensions := "base"
	if in.POIType != "" {
		extensions = "all"
	}

	params := url.Values{}
	params.Set("location", in.Location)
	params.Set("radius", "1000")
	params.Set("extensions", extensions)
	params.Set("batch", strconv.FormatBool(strings.Contains(in.Location, "|")))
	params.Set("roadlevel", "1")
	params.Set("homeorcorp", "0")
	if in.POIType != "" {
		params.Set("poitype", in.POIType)
	}

	return c.get(ctx, "/v3/geocode/regeo", params)
}

// Weather queries current conditions (forecast=false) or the forecast
// (forecast=true) for a city identified by its adcode.
func (c *Client) Weather(ctx context.Context, adcode string, forecast bool) (map[string]any, error) {
	if adcode == "" {
		return nil, fmt.Errorf("city adcode must not be empty")
	}

	extensions := "base"
	if forecast {
		extensions = "all"
	}

	params := url.Values{}
	params.Set("city", adcode)
	params.Set("extensions", extensions)

	return c.get(ctx, "/v3/weather/weatherInfo", params)
}

// RouteInput parameterizes route planning between two coordinates.
type RouteInput struct {
	// Origin is the start "lon,lat".
	Origin string
	// Destination is the end "lon,lat".
	Destination string
	// OriginPOI and DestinationPOI improve accuracy when the endpoints are
	// known places.
	OriginPOI      string
	DestinationPOI string
}

func (in RouteInput) validate() error {
	if in.Origin == "" || in.Destination == "" {
		return fmt.Errorf("origin and destination must not be empty")
	}
	return nil
}

// DrivingRoute plans a driving route using the default strategy.
func (c *Client) DrivingRoute(ctx context.Context, in RouteInput) (map[string]any, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("origin", in.Origin)
	params.Set("destination", in.Destination)
	params.Set("strategy", "32")
	if in.OriginPOI != "" {
		params.Set("origin_id", in.OriginPOI)
	}
	if in.DestinationPOI != "" {
		params.Set("destination_id", in.DestinationPOI)
	}

	return c.get(ctx, "/v5/direction/driving", params)
}

// WalkingRoute plans a walking route.
func (c *Client) WalkingRoute(ctx context.Context, in RouteInput) (map[string]any, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("origin", in.Origin)
	params.Set("destination", in.Destination)
	if in.OriginPOI != "" {
		params.Set("origin_id", in.OriginPOI)
	}
	if in.DestinationPOI != "" {
		params.Set("destination_id", in.DestinationPOI)
	}

	return c.get(ctx, "/v5/direction/walking", params)
}

// TransitRoute plans an integrated public-transit route.
func (c *Client) TransitRoute(ctx context.Context, in RouteInput) (map[string]any, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("origin", in.Origin)
	params.Set("destination", in.Destination)
	params.Set("strategy", "0")
	if in.OriginPOI != "" {
		params.Set("originpoi", in.OriginPOI)
	}
	if in.DestinationPOI != "" {
		params.Set("destinationpoi", in.DestinationPOI)
	}

	return c.get(ctx, "/v5/direction/transit/integrated", params)
}

// Distance computes straight-line distances from up to 100 origins to one
// destination. Coordinates are "lon,lat" strings.
func (c *Client) Distance(ctx context.Context, origins []string, destination string) ([]any, error) {
	if len(origins) == 0 {
		return nil, fmt.Errorf("origins must not be empty")
	}
	if len(origins) > 100 {
		return nil, fmt.Errorf("at most 100 origins supported, got %d", len(origins))
	}
	if destination == "" {
		return nil, fmt.Errorf("destination must not be empty")
	}

	params := url.Values{}
	params.Set("origins", strings.Join(origins, "|"))
	params.Set("destination", destination)
	params.Set("type", "1")

	res, err := c.get(ctx, "/v3/distance", params)
	if err != nil {
		return nil, err
	}

	results, _ := res["results"].([]any)
	for _, r := range results {
		if m, ok := r.(map[string]any); ok {
			delete(m, "duration") // meaningless for straight-line type
		}
	}

	return results, nil
}
