// Package testserver provides a small order and product service used as a
// load target in tests and local demos.
//
// Order creation queues the order and answers 202 with a PENDING status.
// In locked mode a repeated order for the same customer and product while
// one is still pending returns the existing order instead of creating a
// duplicate. Unlocked mode does the same lookup without holding the lock
// across the check and the insert, so concurrent creations race.
package testserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/loadcheck/internal/logging"
)

// StatusPending is the status of a queued order.
const StatusPending = "PENDING"

// Options configures the service behaviour.
type Options struct {
	// Locked serialises the duplicate check with the insert.
	Locked bool

	// CreateDelay is spent between the duplicate check and the insert.
	CreateDelay time.Duration

	// ReadDelay is added to every product lookup.
	ReadDelay time.Duration

	Logger *slog.Logger
}

// Order is a queued order.
type Order struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	ProductID  string    `json:"product_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Product is a catalogue entry.
type Product struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	BasePrice float64 `json:"base_price"`
	Stock     int     `json:"stock"`
}

type orderRequest struct {
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
}

// Server is an http.Handler serving the order and product routes.
type Server struct {
	opts Options
	mux  *http.ServeMux

	mu       sync.Mutex
	orders   map[string]*Order
	products map[string]Product

	requests atomic.Int64
}

// New creates a server seeded with the given products.
func New(opts Options, products ...Product) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	s := &Server{
		opts:     opts,
		mux:      http.NewServeMux(),
		orders:   make(map[string]*Order),
		products: make(map[string]Product, len(products)),
	}
	for _, p := range products {
		s.products[p.ProductID] = p
	}

	s.mux.HandleFunc("POST /api/v1/orders", s.handleCreateOrder)
	s.mux.HandleFunc("POST /api/v1/orders/", s.handleCreateOrder)
	s.mux.HandleFunc("GET /api/v1/orders/{id}", s.handleGetOrder)
	s.mux.HandleFunc("GET /api/v1/products/{id}", s.handleGetProduct)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mux.ServeHTTP(w, r)
}

// Requests returns the number of requests served.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Orders returns the number of orders stored.
func (s *Server) Orders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// Duplicates returns how many pending orders share a customer and product
// with an earlier pending order.
func (s *Server) Duplicates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.orders))
	dups := 0
	for _, o := range s.orders {
		if o.Status != StatusPending {
			continue
		}
		key := o.CustomerID + "/" + o.ProductID
		if seen[key] {
			dups++
		}
		seen[key] = true
	}
	return dups
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid order body")
		return
	}
	if strings.TrimSpace(req.CustomerID) == "" || strings.TrimSpace(req.ProductID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "customer_id and product_id are required")
		return
	}

	var order *Order
	if s.opts.Locked {
		s.mu.Lock()
		order = s.findPendingLocked(req)
		if order == nil {
			s.sleep(s.opts.CreateDelay)
			order = s.insertLocked(req)
		}
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		order = s.findPendingLocked(req)
		s.mu.Unlock()
		if order == nil {
			s.sleep(s.opts.CreateDelay)
			s.mu.Lock()
			order = s.insertLocked(req)
			s.mu.Unlock()
		}
	}

	s.opts.Logger.Debug("order queued", "order_id", order.OrderID, "customer_id", order.CustomerID)
	writeJSON(w, http.StatusAccepted, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	order, ok := s.orders[r.PathValue("id")]
	var snapshot Order
	if ok {
		snapshot = *order
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	s.sleep(s.opts.ReadDelay)

	s.mu.Lock()
	product, ok := s.products[r.PathValue("id")]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) findPendingLocked(req orderRequest) *Order {
	for _, o := range s.orders {
		if o.Status == StatusPending && o.CustomerID == req.CustomerID && o.ProductID == req.ProductID {
			return o
		}
	}
	return nil
}

func (s *Server) insertLocked(req orderRequest) *Order {
	o := &Order{
		OrderID:    uuid.NewString(),
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	s.orders[o.OrderID] = o
	return o
}

func (s *Server) sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
