package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/hqpham/shop-checkout/internal/core/domain"
)

// MySQL error 1062, raised when the one-open-cart unique index rejects a
// second open cart for the same user.
const mysqlErrDupEntry = 1062

// MySQLStore is the durable side of the system: the Payment/Orders/Shopping_cart
// commit path, the inventory mirror and the catalog/user lookups.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func durableErr(op string, err error) error {
	return fmt.Errorf("%s: %w (%w)", op, err, domain.ErrDurableWriteFailure)
}

// GetOrCreateOpenCart returns the user's open cart, creating one when none
// exists. Concurrent creators race on the unique index; the loser observes a
// duplicate-key error and re-reads the winner's row, so every caller converges
// on the same cart id.
func (m *MySQLStore) GetOrCreateOpenCart(ctx context.Context, userID int64) (domain.Cart, error) {
	cart, err := m.findOpenCart(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, fmt.Errorf("find open cart: %w", err)
	}

	result, err := m.db.ExecContext(ctx, `
		INSERT INTO Shopping_cart (User_id, Order_placed, Created_by)
		VALUES (?, FALSE, CURDATE())`, userID)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDupEntry {
			cart, err := m.findOpenCart(ctx, userID)
			if err != nil {
				return domain.Cart{}, fmt.Errorf("re-read open cart after lost create race: %w", err)
			}
			return cart, nil
		}
		return domain.Cart{}, durableErr("create cart", err)
	}

	cartID, err := result.LastInsertId()
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart insert id: %w", err)
	}

	cart, err = m.getCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("read created cart: %w", err)
	}
	return cart, nil
}

func (m *MySQLStore) findOpenCart(ctx context.Context, userID int64) (domain.Cart, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT Cart_id, User_id, Order_placed, Order_id, Created_by
		FROM Shopping_cart
		WHERE User_id = ? AND Order_placed = FALSE
		LIMIT 1`, userID)
	return scanCart(row)
}

func (m *MySQLStore) getCart(ctx context.Context, cartID int64) (domain.Cart, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT Cart_id, User_id, Order_placed, Order_id, Created_by
		FROM Shopping_cart
		WHERE Cart_id = ?`, cartID)
	return scanCart(row)
}

// GetCart exposes a cart by id for callers outside the commit path.
func (m *MySQLStore) GetCart(ctx context.Context, cartID int64) (domain.Cart, error) {
	cart, err := m.getCart(ctx, cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, fmt.Errorf("cart %d: %w", cartID, domain.ErrValidation)
	}
	return cart, err
}

func scanCart(row *sql.Row) (domain.Cart, error) {
	var (
		cart    domain.Cart
		orderID sql.NullInt64
	)
	if err := row.Scan(&cart.ID, &cart.UserID, &cart.Placed, &orderID, &cart.CreatedAt); err != nil {
		return domain.Cart{}, err
	}
	if orderID.Valid {
		cart.OrderID = &orderID.Int64
	}
	return cart, nil
}

// CommitOrder performs the durable half of checkout as one transaction:
// Payment insert, Orders insert, cart open-to-placed transition. The cart
// update is conditional on the cart still being open and owned by the user;
// zero affected rows aborts the whole transaction.
func (m *MySQLStore) CommitOrder(ctx context.Context, userID, cartID int64, items []domain.OrderItem, total decimal.Decimal, payment domain.PaymentInfo) (int64, error) {
	if len(items) == 0 {
		return 0, fmt.Errorf("empty order: %w", domain.ErrValidation)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, durableErr("begin tx", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO Payment (Payment_method, Payment_status)
		VALUES (?, ?)`, payment.Method, payment.Status)
	if err != nil {
		return 0, durableErr("insert payment", err)
	}
	paymentID, err := result.LastInsertId()
	if err != nil {
		return 0, durableErr("payment insert id", err)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO Orders (Order_status, Order_price, Order_date, User_id, Shipping_id, Payment_id, Return_id)
		VALUES (?, ?, CURDATE(), ?, NULL, ?, NULL)`,
		domain.OrderStatusPlaced, total.StringFixed(2), userID, paymentID)
	if err != nil {
		return 0, durableErr("insert order", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return 0, durableErr("order insert id", err)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE Shopping_cart SET Order_placed = TRUE, Order_id = ?
		WHERE Cart_id = ? AND User_id = ? AND Order_placed = FALSE`,
		orderID, cartID, userID)
	if err != nil {
		return 0, durableErr("place cart", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, durableErr("place cart rows", err)
	}
	if rows == 0 {
		return 0, durableErr("place cart",
			fmt.Errorf("cart %d is not open for user %d", cartID, userID))
	}

	if err := tx.Commit(); err != nil {
		return 0, durableErr("commit", err)
	}
	return orderID, nil
}

// DecrementInventory applies the post-commit mirror decrement.
func (m *MySQLStore) DecrementInventory(ctx context.Context, productID int64, quantity int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE Inventory SET Quantity = Quantity - ?
		WHERE Product_id = ?`, quantity, productID)
	if err != nil {
		return fmt.Errorf("update inventory: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update inventory rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("inventory for product %d: %w", productID, domain.ErrValidation)
	}
	return nil
}

func (m *MySQLStore) GetOnHandQuantity(ctx context.Context, productID int64) (int, error) {
	var quantity int
	err := m.db.QueryRowContext(ctx, `
		SELECT Quantity FROM Inventory WHERE Product_id = ?`, productID).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("inventory for product %d: %w", productID, domain.ErrValidation)
	}
	if err != nil {
		return 0, fmt.Errorf("query inventory: %w", err)
	}
	return quantity, nil
}

func (m *MySQLStore) GetUnitPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var raw string
	err := m.db.QueryRowContext(ctx, `
		SELECT Unit_price FROM Product WHERE Product_id = ?`, productID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, fmt.Errorf("product %d: %w", productID, domain.ErrValidation)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("query product price: %w", err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price %q for product %d: %w", raw, productID, err)
	}
	return price, nil
}

func (m *MySQLStore) GetUserID(ctx context.Context, email string) (int64, error) {
	var userID int64
	err := m.db.QueryRowContext(ctx, `
		SELECT User_id FROM User WHERE Email = ?`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", email, domain.ErrValidation)
	}
	if err != nil {
		return 0, fmt.Errorf("query user: %w", err)
	}
	return userID, nil
}
