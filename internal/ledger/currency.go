package ledger

// CurrencyKey identifies a synthetic asset.
type CurrencyKey string

// BaseCurrency is the system's base stable unit. All issued debt is
// denominated in it and fees are remitted in it.
const BaseCurrency CurrencyKey = "rUSD"

// Asset is the immutable identity of a synthetic asset. Its rate comes
// from the oracle feed, never from here.
type Asset struct {
	Key        CurrencyKey
	Volatile   bool // volatile assets are barred from the atomic path
	BaseStable bool
}

var defaultAssets = map[CurrencyKey]Asset{
	"rUSD": {Key: "rUSD", BaseStable: true},
	"rBTC": {Key: "rBTC", Volatile: true},
	"rETH": {Key: "rETH", Volatile: true},
	"rEUR": {Key: "rEUR"},
}

// AssetRegistry holds the set of known synthetic assets.
// Mutated only at boot and through the admin surface.
type AssetRegistry struct {
	assets map[CurrencyKey]Asset
}

func NewAssetRegistry() *AssetRegistry {
	assets := make(map[CurrencyKey]Asset, len(defaultAssets))
	for k, v := range defaultAssets {
		assets[k] = v
	}
	return &AssetRegistry{assets: assets}
}

func (r *AssetRegistry) Get(key CurrencyKey) (Asset, bool) {
	a, ok := r.assets[key]
	return a, ok
}

func (r *AssetRegistry) Add(a Asset) {
	r.assets[a.Key] = a
}

// Keys returns all registered currency keys. Order is not deterministic.
func (r *AssetRegistry) Keys() []CurrencyKey {
	keys := make([]CurrencyKey, 0, len(r.assets))
	for k := range r.assets {
		keys = append(keys, k)
	}
	return keys
}
