package seckill

import (
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Reservation script results.
const (
	reserveOK        = 0
	reserveSoldOut   = 1
	reserveDuplicate = 2
)

// reserveScript atomically checks stock and buyer eligibility, then takes one
// unit. KEYS[1] is the stock counter, KEYS[2] the buyer set, ARGV[1] the buyer.
// A missing stock key counts as sold out.
var reserveScript = redis.NewScript(`
local stock = tonumber(redis.call('get', KEYS[1]))
if stock == nil or stock <= 0 then
	return 1
end
if redis.call('sismember', KEYS[2], ARGV[1]) == 1 then
	return 2
end
redis.call('incrby', KEYS[1], -1)
redis.call('sadd', KEYS[2], ARGV[1])
return 0
`)

// rollbackScript returns a reservation that never reached the queue.
var rollbackScript = redis.NewScript(`
if redis.call('srem', KEYS[2], ARGV[1]) == 1 then
	redis.call('incrby', KEYS[1], 1)
	return 1
end
return 0
`)

// StockKey returns the Redis counter holding the sellable stock of a voucher.
func StockKey(voucherID int64) string {
	return "seckill:stock:" + strconv.FormatInt(voucherID, 10)
}

// BuyersKey returns the Redis set of buyers holding a reservation.
func BuyersKey(voucherID int64) string {
	return "seckill:order:" + strconv.FormatInt(voucherID, 10)
}

func orderLockKey(buyerID int64) string {
	return "lock:order:" + strconv.FormatInt(buyerID, 10)
}
