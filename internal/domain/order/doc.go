// Package order contains the Order bounded context as seen by the operations core.
//
// Orders are never stored locally: they are decoded from Sapo Core and Sapo
// Marketplace responses, inspected, and written back through the facades.
//
// Key concepts:
//   - Order: a Sapo Core order with line items and fulfillments
//   - RealItem: a line item after pack-size expansion into root variant units
//   - MarketplaceOrder: an aggregated channel order from Sapo Marketplace
//   - ConfirmItem: one order's pickup commitment, grouped per shop and address
//   - Note: the compact key dictionary stored in a shipment note
package order
