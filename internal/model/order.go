package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Order statuses
const (
	OrderStatusOpen       = "open"        // Cart being filled, not checked out
	OrderStatusCheckedOut = "checked_out" // Stock reserved, awaiting payment
	OrderStatusPaid       = "paid"
	OrderStatusReleasing  = "releasing" // Claimed for release, stock being put back
	OrderStatusExpired    = "expired"   // Payment never arrived, stock released
)

// OrderItem is one product line of an order. Quantity was reserved from the
// product's stock at checkout.
type OrderItem struct {
	ProductID primitive.ObjectID `json:"product_id" bson:"product_id"`
	Name      string             `json:"name" bson:"name"`
	Quantity  int                `json:"quantity" bson:"quantity"`
	Price     float64            `json:"price" bson:"price"`
}

// Order represents an order document
type Order struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RestaurantID primitive.ObjectID `json:"restaurant_id" bson:"restaurant_id"`
	Items        []OrderItem        `json:"items" bson:"items"`
	Status       string             `json:"status" bson:"status"`
	Email        string             `json:"email,omitempty" bson:"email,omitempty"`
	Total        float64            `json:"total" bson:"total"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	CheckedOutAt *time.Time         `json:"checked_out_at,omitempty" bson:"checked_out_at,omitempty"`
	PaidAt       *time.Time         `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	ReleasingAt  *time.Time         `json:"releasing_at,omitempty" bson:"releasing_at,omitempty"`
	ExpiredAt    *time.Time         `json:"expired_at,omitempty" bson:"expired_at,omitempty"`
}

// IsUnpaidCheckout reports whether the order reserved stock at checkout and
// has waited longer than the cutoff without payment.
func (o *Order) IsUnpaidCheckout(cutoff time.Time) bool {
	return o.Status == OrderStatusCheckedOut &&
		o.PaidAt == nil &&
		o.CheckedOutAt != nil &&
		o.CheckedOutAt.Before(cutoff)
}

// NeedsRelease reports whether the release sweep should work on the order:
// either a stale unpaid checkout, or a release that has not finished yet.
func (o *Order) NeedsRelease(cutoff time.Time) bool {
	return o.Status == OrderStatusReleasing || o.IsUnpaidCheckout(cutoff)
}

// StockRelease records that an order's reserved quantity was returned to a product
type StockRelease struct {
	OrderID primitive.ObjectID `json:"order_id" bson:"order_id"`
	At      time.Time          `json:"at" bson:"at"`
}

// Product represents a product with its available stock. ReleasedOrders
// holds the unpaid orders whose quantity was put back, kept until retention
// so a retried release never adds it twice.
type Product struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	RestaurantID   primitive.ObjectID `json:"restaurant_id" bson:"restaurant_id"`
	Name           string             `json:"name" bson:"name"`
	Quantity       int                `json:"quantity" bson:"quantity"`
	Price          float64            `json:"price" bson:"price"`
	ReleasedOrders []StockRelease     `json:"-" bson:"released_orders,omitempty"`
}

// PhoneNumber is an SMS subscriber number pending or past verification
type PhoneNumber struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Number           string             `json:"number" bson:"number"`
	Verified         bool               `json:"verified" bson:"verified"`
	VerificationCode string             `json:"-" bson:"verification_code,omitempty"`
	CreatedAt        time.Time          `json:"created_at" bson:"created_at"`
}
