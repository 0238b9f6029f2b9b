// Package country maps ISO 3166-1 alpha-3 codes to their numeric codes.
// Claims and encrypted attributes carry numeric codes because proof circuits
// and FHE plaintexts work on integers, not strings.
package country

import "strings"

// Subset of ISO 3166-1 covering the nationalities seen on supported
// documents. Extend as new issuing countries come online.
var numericByAlpha3 = map[string]int{
	"AFG": 4, "ALB": 8, "DZA": 12, "AND": 20, "AGO": 24,
	"ARG": 32, "ARM": 51, "AUS": 36, "AUT": 40, "AZE": 31,
	"BGD": 50, "BLR": 112, "BEL": 56, "BOL": 68, "BIH": 70,
	"BRA": 76, "BGR": 100, "KHM": 116, "CMR": 120, "CAN": 124,
	"CHL": 152, "CHN": 156, "COL": 170, "CRI": 188, "HRV": 191,
	"CUB": 192, "CYP": 196, "CZE": 203, "DNK": 208, "DOM": 214,
	"ECU": 218, "EGY": 818, "SLV": 222, "EST": 233, "ETH": 231,
	"FIN": 246, "FRA": 250, "GEO": 268, "DEU": 276, "GHA": 288,
	"GRC": 300, "GTM": 320, "HTI": 332, "HND": 340, "HUN": 348,
	"ISL": 352, "IND": 356, "IDN": 360, "IRN": 364, "IRQ": 368,
	"IRL": 372, "ISR": 376, "ITA": 380, "JAM": 388, "JPN": 392,
	"JOR": 400, "KAZ": 398, "KEN": 404, "KOR": 410, "KWT": 414,
	"LVA": 428, "LBN": 422, "LBY": 434, "LIE": 438, "LTU": 440,
	"LUX": 442, "MYS": 458, "MLT": 470, "MEX": 484, "MDA": 498,
	"MCO": 492, "MNG": 496, "MNE": 499, "MAR": 504, "NPL": 524,
	"NLD": 528, "NZL": 554, "NIC": 558, "NGA": 566, "MKD": 807,
	"NOR": 578, "PAK": 586, "PAN": 591, "PRY": 600, "PER": 604,
	"PHL": 608, "POL": 616, "PRT": 620, "QAT": 634, "ROU": 642,
	"RUS": 643, "SAU": 682, "SRB": 688, "SGP": 702, "SVK": 703,
	"SVN": 705, "ZAF": 710, "ESP": 724, "LKA": 144, "SWE": 752,
	"CHE": 756, "SYR": 760, "TWN": 158, "THA": 764, "TUN": 788,
	"TUR": 792, "UKR": 804, "ARE": 784, "GBR": 826, "USA": 840,
	"URY": 858, "UZB": 860, "VEN": 862, "VNM": 704, "YEM": 887,
	"ZWE": 716,
}

// Numeric returns the ISO numeric code for an alpha-3 code, or 0 and false
// when the code is unknown. Lookup is case-insensitive.
func Numeric(alpha3 string) (int, bool) {
	n, ok := numericByAlpha3[strings.ToUpper(strings.TrimSpace(alpha3))]
	return n, ok
}
