// Package room 管理即時游標房間與配對佇列的記憶體狀態。
//
// 系統設計問題：
//
//	多個連線同時建立、加入、離開房間與排隊配對時，如何保證房間成員一致？
//
// 不變量：
//   - 房間存在時成員不為空；最後一位成員離開的同一次轉換中刪除房間
//   - 每個房間恰好一位房主，且 Room.HostID 指向該成員
//   - 房間代碼在所有存活房間中唯一（刪除後可重用）
//   - 一個連線最多屬於一個房間；在房間內的連線不會同時在配對佇列中
//   - 配對佇列為 FIFO，同一連線最多出現一次
//
// 併發模型：
//
// Manager 以單一互斥鎖同時保護房間表、連線→房間索引與配對佇列。
// 每個公開方法就是一次完整的原子轉換，回傳值都是鎖內取得的快照，
// 呼叫端可以在釋放鎖之後安全地廣播。
//
// 房主轉移規則：
//
// 房主離開時，由剩餘成員中加入順序最早者接任（依加入序號，不依 map 迭代順序）。
package room
