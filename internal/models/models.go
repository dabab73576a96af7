package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int       `json:"version"`
}

// UserSummary is the owner projection attached to an order when the caller asks for it.
type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type Product struct {
	ID                 int64            `json:"id"`
	SKU                string           `json:"sku"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	Price              decimal.Decimal  `json:"price"`
	PriceAfterDiscount *decimal.Decimal `json:"priceAfterDiscount,omitempty"`
	StockQuantity      int              `json:"quantity"`
	Sold               int              `json:"sold"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
	Version            int              `json:"version"`
}

// ProductSnapshot is the slice of a product the placement path reads.
type ProductSnapshot struct {
	ID                 int64
	Title              string
	Price              decimal.Decimal
	PriceAfterDiscount *decimal.Decimal
	StockQuantity      int
}

// UnitPrice is the discounted price when one is set, otherwise the list price.
func (p ProductSnapshot) UnitPrice() decimal.Decimal {
	if p.PriceAfterDiscount != nil {
		return *p.PriceAfterDiscount
	}
	return p.Price
}

// Identity is the caller resolved by the auth collaborator. Exactly one of
// UserID and Token identifies a cart owner; UserID wins when both are set.
type Identity struct {
	UserID int64
	Token  string
	Role   string
}

func (i Identity) IsAuthenticated() bool { return i.UserID != 0 }

func (i Identity) IsAdmin() bool { return i.IsAuthenticated() && i.Role == RoleAdmin }

// CartKey returns the storage key of the cart owned by this identity, or ""
// when the caller carries neither a user id nor an anonymous token.
func (i Identity) CartKey() string {
	switch {
	case i.UserID != 0:
		return fmt.Sprintf("user:%d", i.UserID)
	case i.Token != "":
		return "token:" + i.Token
	default:
		return ""
	}
}

type Cart struct {
	ID        string     `json:"id,omitempty"`
	UserID    *int64     `json:"user,omitempty"`
	Token     string     `json:"token,omitempty"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
}

type CartItem struct {
	ID        string    `json:"id"`
	ProductID int64     `json:"product"`
	Count     int       `json:"count"`
	AddedAt   time.Time `json:"addedAt"`
}

// EmptyCart is what callers see for an owner with no stored cart.
func EmptyCart(owner Identity) *Cart {
	cart := &Cart{Items: []CartItem{}, Token: owner.Token}
	if owner.UserID != 0 {
		id := owner.UserID
		cart.UserID = &id
		cart.Token = ""
	}
	return cart
}

type ShippingAddress struct {
	Details    string `json:"details"`
	Phone      string `json:"phone"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          int64           `json:"userId"`
	User            *UserSummary    `json:"user,omitempty"`
	Items           []OrderItem     `json:"cartItems"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"taxPrice"`
	ShippingAmount  decimal.Decimal `json:"shippingPrice"`
	TotalAmount     decimal.Decimal `json:"totalOrderPrice"`
	PaymentMethod   string          `json:"paymentMethod"`
	IsPaid          bool            `json:"isPaid"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	Status          string          `json:"orderStatus"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Version         int             `json:"version"`
}

type OrderItem struct {
	ID           int64           `json:"id,omitempty"`
	OrderID      int64           `json:"orderId,omitempty"`
	ProductID    int64           `json:"product"`
	ProductTitle string          `json:"productTitle,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"price"`
	Color        *string         `json:"color,omitempty"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type OrderStats struct {
	TotalOrders       int64           `json:"totalOrders"`
	PendingOrders     int64           `json:"pendingOrders"`
	ProcessingOrders  int64           `json:"processingOrders"`
	ShippedOrders     int64           `json:"shippedOrders"`
	DeliveredOrders   int64           `json:"deliveredOrders"`
	CancelledOrders   int64           `json:"cancelledOrders"`
	PaidOrders        int64           `json:"paidOrders"`
	TotalRevenue      decimal.Decimal `json:"totalRevenue"`
	AverageOrderValue decimal.Decimal `json:"averageOrderValue"`
}

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

var OrderStatuses = []string{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func IsValidOrderStatus(status string) bool {
	for _, s := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

func IsValidPaymentMethod(method string) bool {
	return method == PaymentMethodCash || method == PaymentMethodCard
}
