package adapters

// RegionMap resolves Yandex geoids to the city name the marketplaces display
// in their headers. The built-in table covers the regions we actually run;
// REGION_MAP_JSON extends it without a redeploy.
type RegionMap struct {
	cities map[string]string
}

var defaultCities = map[string]string{
	"213": "Москва",
	"2":   "Санкт-Петербург",
	"54":  "Екатеринбург",
	"65":  "Новосибирск",
	"43":  "Казань",
}

// NewRegionMap builds a region map from the defaults plus overrides.
func NewRegionMap(overrides map[string]string) *RegionMap {
	cities := make(map[string]string, len(defaultCities)+len(overrides))
	for k, v := range defaultCities {
		cities[k] = v
	}
	for k, v := range overrides {
		cities[k] = v
	}
	return &RegionMap{cities: cities}
}

// City returns the expected city for a geoid. ok is false for unknown geoids,
// which region verification treats as a pass.
func (r *RegionMap) City(geoid string) (string, bool) {
	if r == nil {
		return "", false
	}
	city, ok := r.cities[geoid]
	return city, ok
}
