package sun

// Representative coordinates per IANA zone, used as a heuristic when
// every geolocation provider is unreachable. The table only needs to be
// accurate to the city level: sunrise/sunset shifts by a couple of
// minutes across a zone.
var zoneCoordinates = map[string]Coordinates{
	"Africa/Cairo":         {30.0444, 31.2357},
	"Africa/Johannesburg":  {-26.2041, 28.0473},
	"Africa/Lagos":         {6.5244, 3.3792},
	"Africa/Nairobi":       {-1.2921, 36.8219},
	"America/Anchorage":    {61.2181, -149.9003},
	"America/Bogota":       {4.7110, -74.0721},
	"America/Chicago":      {41.8781, -87.6298},
	"America/Denver":       {39.7392, -104.9903},
	"America/Halifax":      {44.6488, -63.5752},
	"America/Los_Angeles":  {34.0522, -118.2437},
	"America/Mexico_City":  {19.4326, -99.1332},
	"America/New_York":     {40.7128, -74.0060},
	"America/Phoenix":      {33.4484, -112.0740},
	"America/Sao_Paulo":    {-23.5505, -46.6333},
	"America/Toronto":      {43.6532, -79.3832},
	"America/Vancouver":    {49.2827, -123.1207},
	"Asia/Bangkok":         {13.7563, 100.5018},
	"Asia/Dubai":           {25.2048, 55.2708},
	"Asia/Hong_Kong":       {22.3193, 114.1694},
	"Asia/Jakarta":         {-6.2088, 106.8456},
	"Asia/Jerusalem":       {31.7683, 35.2137},
	"Asia/Kolkata":         {28.6139, 77.2090},
	"Asia/Seoul":           {37.5665, 126.9780},
	"Asia/Shanghai":        {31.2304, 121.4737},
	"Asia/Singapore":       {1.3521, 103.8198},
	"Asia/Tokyo":           {35.6762, 139.6503},
	"Australia/Brisbane":   {-27.4698, 153.0251},
	"Australia/Melbourne":  {-37.8136, 144.9631},
	"Australia/Perth":      {-31.9505, 115.8605},
	"Australia/Sydney":     {-33.8688, 151.2093},
	"Europe/Amsterdam":     {52.3676, 4.9041},
	"Europe/Athens":        {37.9838, 23.7275},
	"Europe/Berlin":        {52.5200, 13.4050},
	"Europe/Brussels":      {50.8503, 4.3517},
	"Europe/Bucharest":     {44.4268, 26.1025},
	"Europe/Budapest":      {47.4979, 19.0402},
	"Europe/Copenhagen":    {55.6761, 12.5683},
	"Europe/Dublin":        {53.3498, -6.2603},
	"Europe/Helsinki":      {60.1699, 24.9384},
	"Europe/Istanbul":      {41.0082, 28.9784},
	"Europe/Kyiv":          {50.4501, 30.5234},
	"Europe/Lisbon":        {38.7223, -9.1393},
	"Europe/London":        {51.5074, -0.1278},
	"Europe/Madrid":        {40.4168, -3.7038},
	"Europe/Moscow":        {55.7558, 37.6173},
	"Europe/Oslo":          {59.9139, 10.7522},
	"Europe/Paris":         {48.8566, 2.3522},
	"Europe/Prague":        {50.0755, 14.4378},
	"Europe/Rome":          {41.9028, 12.4964},
	"Europe/Stockholm":     {59.3293, 18.0686},
	"Europe/Vienna":        {48.2082, 16.3738},
	"Europe/Warsaw":        {52.2297, 21.0122},
	"Europe/Zurich":        {47.3769, 8.5417},
	"Pacific/Auckland":     {-36.8485, 174.7633},
	"Pacific/Honolulu":     {21.3069, -157.8583},
}

// timezoneCoordinates looks a zone name up in the coordinate table.
func timezoneCoordinates(zone string) (Coordinates, bool) {
	c, ok := zoneCoordinates[zone]
	return c, ok
}
