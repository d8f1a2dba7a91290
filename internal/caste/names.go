package caste

import "strings"

// casteNames maps the Nepali caste names used in the reference surname list
// to categories.
var casteNames = map[string]Category{
	"ब्राह्मण":         Brahmin,
	"ब्राह्मण/क्षत्री": Brahmin,
	"जङ्गम":            Brahmin,
	"भारती":            Brahmin,
	"पर्वत":            Brahmin,
	"बन":               Brahmin,
	"अरण्य":            Brahmin,

	"क्षत्री":     Chhetri,
	"क्षेत्री":    Chhetri,
	"क्षेत्री/मगर": Chhetri,
	"खत्री":       Chhetri,
	"ठकुरी":       Chhetri,
	"राजपूत":      Chhetri,
	"राजपुत":      Chhetri,
	"सेन":         Chhetri,

	"नेवार":   Janajati,
	"गुरुङ":   Janajati,
	"तामाङ":   Janajati,
	"मगर":     Janajati,
	"राई":     Janajati,
	"लिम्बु":  Janajati,
	"सुनुवार": Janajati,
	"याक्खा":  Janajati,
	"शेर्पा":  Janajati,
	"भोटे":    Janajati,
	"किराँत":  Janajati,
	"धिमाल":   Janajati,
	"मेच":     Janajati,
	"भुजेल":   Janajati,
	"हायु":    Janajati,
	"जिरेल":   Janajati,
	"जनजाति":  Janajati,
	"दनुवार":  Janajati,
	"माझी":    Janajati,
	"बोटे":    Janajati,
	"थारु":    Janajati,
	"राजवंशी": Janajati,
	"राजबंशी": Janajati,
	"खवास":    Janajati,
	"दराई":    Janajati,
	"कुमाल":   Janajati,
	"बलामी":   Janajati,

	"दलित":      Dalit,
	"विश्वकर्मा": Dalit,
	"सार्की":    Dalit,
	"दमाई":      Dalit,
	"गन्धर्व":   Dalit,
	"कामी":      Dalit,
	"लोहार":     Dalit,
	"दर्जी":     Dalit,
	"मुसहर":     Dalit,
	"डोम":       Dalit,
	"धोबी":      Dalit,
	"हजाम":      Dalit,
	"नाई":       Dalit,
	"रजक":       Dalit,
	"सोनार":     Dalit,
	"सुनार":     Dalit,
	"दास":       Dalit,
	"परियार":    Dalit,
	"चमार":      Dalit,
	"हरिजन":     Dalit,
	"दुसाध":     Dalit,
	"पासवान":    Dalit,

	"मधेशी":   Madhesi,
	"मधेसी":   Madhesi,
	"यादव":    Madhesi,
	"चौधरी":   Madhesi,
	"महतो":    Madhesi,
	"ठाकुर":   Madhesi,
	"मण्डल":   Madhesi,
	"धानुक":   Madhesi,
	"कुशवाहा": Madhesi,
	"साह":     Madhesi,
	"तेली":    Madhesi,
	"कलवार":   Madhesi,
	"कुर्मी":  Madhesi,
	"केवट":    Madhesi,
	"नोनिया":  Madhesi,
	"मल्लाह":  Madhesi,
	"हलुवाई":  Madhesi,
	"मौर्य":   Madhesi,
	"कामत":    Madhesi,
	"बानियाँ": Madhesi,

	"मुसलमान": Muslim,
}

// knownOther lists religious and generic names that legitimately map to
// Other and should not be reported as unmapped.
var knownOther = map[string]struct{}{
	"अन्य":      {},
	"विभिन्न":   {},
	"हिन्दु":    {},
	"बौद्ध":     {},
	"क्रिश्चियन": {},
	"जैन":       {},
	"योगी":      {},
	"साधु":      {},
	"सन्यासी":   {},
	"उदासीन":    {},
	"बैद्य":     {},
}

// MapCasteName maps a Nepali caste name to a category. Unmapped names yield
// Other; the boolean is false only when the name is neither mapped nor a
// known generic name, so callers can report it.
func MapCasteName(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	if c, ok := casteNames[name]; ok {
		return c, true
	}
	_, generic := knownOther[name]
	return Other, generic
}
