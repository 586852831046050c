package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/modules/payments"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/modules/shipping"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN environment variable is required")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&products.Product{},
		&shipping.Method{},
		&cart.Cart{},
		&cart.CartItem{},
		&orders.Address{},
		&orders.Order{},
		&orders.OrderItem{},
		&payments.Transaction{},
		&middleware.Session{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	log.Println("Migration complete")
}
