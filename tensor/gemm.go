package tensor

import "gonum.org/v1/gonum/blas"
import "gonum.org/v1/gonum/blas/blas32"

func general(data []float32, rows, cols int) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data[:rows*cols]}
}

// MatMul computes c += a·b for row-major a (m×k), b (k×n) and c (m×n).
func MatMul(c, a, b []float32, m, k, n int) {
	if m == 0 || k == 0 || n == 0 {
		return
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(a, m, k), general(b, k, n), 1, general(c, m, n))
}

// MatMulTransA computes c += aᵀ·b for a (k×m), b (k×n) and c (m×n).
func MatMulTransA(c, a, b []float32, m, k, n int) {
	if m == 0 || k == 0 || n == 0 {
		return
	}
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(a, k, m), general(b, k, n), 1, general(c, m, n))
}

// MatMulTransB computes c += a·bᵀ for a (m×k), b (n×k) and c (m×n).
func MatMulTransB(c, a, b []float32, m, k, n int) {
	if m == 0 || k == 0 || n == 0 {
		return
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, general(a, m, k), general(b, n, k), 1, general(c, m, n))
}
