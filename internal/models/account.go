package models

// StockRecord is the stock-bearing view of a product.
type StockRecord struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Stock int    `json:"stock"`
}

// Account holds the buyer's contact details together with the cart and the
// order history that checkout rewrites.
type Account struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Cart   []LineItem `json:"cart"`
	Orders []OrderRef `json:"orders"`
}

// Contact is the value handed to notification delivery after commit.
type Contact struct {
	BuyerID string `json:"buyer_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
}

func (a Account) Contact() Contact {
	return Contact{BuyerID: a.ID, Name: a.Name, Email: a.Email}
}
