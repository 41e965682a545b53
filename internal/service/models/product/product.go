package product

// Product is the read-only catalog view used at checkout to freeze line prices.
type Product struct {
	ID         int64
	Title      string
	PriceCents int64
	Active     bool
}
