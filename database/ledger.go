package database

import (
	"fmt"

	"gorm.io/gorm"
)

// The stock ledger lives in the database so concurrent checkouts contend on
// row locks instead of application-level state. Error prefixes are part of
// the contract: the repository layer classifies failures by them.
const reserveFunctionSQL = `
CREATE OR REPLACE FUNCTION reserve_product_stock(p_items jsonb)
RETURNS void
LANGUAGE plpgsql
AS $$
DECLARE
    item record;
    updated integer;
BEGIN
    IF p_items IS NULL OR jsonb_typeof(p_items) <> 'array' OR jsonb_array_length(p_items) = 0 THEN
        RAISE EXCEPTION 'INVALID_ITEMS: expected a non-empty item array';
    END IF;

    FOR item IN
        SELECT (value->>'product_id') AS product_id,
               (value->>'quantity')::int AS quantity
        FROM jsonb_array_elements(p_items)
        ORDER BY value->>'product_id'
    LOOP
        IF item.product_id IS NULL OR item.quantity IS NULL OR item.quantity < 1 THEN
            RAISE EXCEPTION 'INVALID_ITEMS: each item needs a product_id and a positive quantity';
        END IF;

        UPDATE products
        SET stock_quantity = stock_quantity - item.quantity
        WHERE id = item.product_id
          AND stock_quantity >= item.quantity;

        GET DIAGNOSTICS updated = ROW_COUNT;
        IF updated = 0 THEN
            RAISE EXCEPTION 'INSUFFICIENT_STOCK: product % cannot cover quantity %', item.product_id, item.quantity;
        END IF;
    END LOOP;
END;
$$;
`

const releaseFunctionSQL = `
CREATE OR REPLACE FUNCTION release_product_stock(p_items jsonb)
RETURNS void
LANGUAGE plpgsql
AS $$
DECLARE
    item record;
BEGIN
    IF p_items IS NULL OR jsonb_typeof(p_items) <> 'array' OR jsonb_array_length(p_items) = 0 THEN
        RAISE EXCEPTION 'INVALID_ITEMS: expected a non-empty item array';
    END IF;

    FOR item IN
        SELECT (value->>'product_id') AS product_id,
               (value->>'quantity')::int AS quantity
        FROM jsonb_array_elements(p_items)
        ORDER BY value->>'product_id'
    LOOP
        IF item.product_id IS NULL OR item.quantity IS NULL OR item.quantity < 1 THEN
            RAISE EXCEPTION 'INVALID_ITEMS: each item needs a product_id and a positive quantity';
        END IF;

        UPDATE products
        SET stock_quantity = stock_quantity + item.quantity
        WHERE id = item.product_id;
    END LOOP;
END;
$$;
`

// EnsureLedgerFunctions installs or refreshes the atomic reserve/release
// functions. Idempotent; runs at startup alongside AutoMigrate.
func EnsureLedgerFunctions(db *gorm.DB) error {
	if err := db.Exec(reserveFunctionSQL).Error; err != nil {
		return fmt.Errorf("create reserve_product_stock: %w", err)
	}
	if err := db.Exec(releaseFunctionSQL).Error; err != nil {
		return fmt.Errorf("create release_product_stock: %w", err)
	}
	return nil
}
